package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/bm25"
	"github.com/alexban14/ai.dok/internal/bucket"
	"github.com/alexban14/ai.dok/internal/collections"
	"github.com/alexban14/ai.dok/internal/config"
	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/embedding"
	"github.com/alexban14/ai.dok/internal/extract"
	"github.com/alexban14/ai.dok/internal/indexer"
	"github.com/alexban14/ai.dok/internal/jobs"
	logpkg "github.com/alexban14/ai.dok/internal/logger"
	"github.com/alexban14/ai.dok/internal/metrics"
	"github.com/alexban14/ai.dok/internal/reranker"
	"github.com/alexban14/ai.dok/internal/retriever"
	openaiEmb "github.com/alexban14/ai.dok/internal/transport/openai"
	"github.com/alexban14/ai.dok/internal/transport/tei"
	storeRedis "github.com/alexban14/ai.dok/internal/vecstore/redis"
	"github.com/alexban14/ai.dok/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "aidok",
	Short:         "Retrieval core for RCP pharmaceutical leaflets",
	Long:          "aidok indexes RCP leaflets into hybrid (BM25 + vector) collections and answers clinical questions with ranked, citable passages.",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// app is the composition root shared by the commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store     *storeRedis.Store
	colls     *collections.Manager
	embedders *embedding.Registry
	rerankers *reranker.Registry
	retriever *retriever.Service
	indexer   *indexer.Service
	jobs      *jobs.Manager
}

// newApp loads configuration and wires the services.
func newApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return nil, err
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	metrics.Register()

	store, err := storeRedis.NewStore(storeRedis.Config{
		Addrs:           cfg.VectorStore.Addrs,
		Username:        cfg.VectorStore.Username,
		Password:        cfg.VectorStore.Password,
		DB:              cfg.VectorStore.DB,
		BatchSize:       cfg.VectorStore.BatchSize,
		HNSWM:           cfg.VectorStore.HNSWM,
		HNSWEFConstruct: cfg.VectorStore.HNSWEFConstruct,
	})
	if err != nil {
		return nil, err
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.VectorStore.ReadinessSec)*time.Second); err != nil {
		store.Close()
		return nil, err
	}

	colls := collections.NewManager(
		cfg.DataDir,
		bm25.Config{K1: cfg.BM25.K1, B: cfg.BM25.B},
		cfg.DomainCollections(),
		logger,
	)

	embedders := embedding.NewRegistry(func(modelID string) (domain.Embedder, error) {
		var emb domain.Embedder = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      modelID,
			Dimensions: cfg.Embedding.Dimensions,
			BatchSize:  cfg.Embedding.BatchSize,
			Logger:     logger,
		})
		if cfg.Embedding.CacheVec {
			emb = embedding.NewCachedEncoder(emb, store, metrics.EmbeddingCacheTotal, logger)
		}
		return emb, nil
	}, logger)

	rerankers := reranker.NewRegistry(func(modelID string) (domain.Reranker, error) {
		return tei.NewReranker(&tei.Config{
			BaseURL:   cfg.Reranker.BaseURL,
			APIKey:    cfg.Reranker.APIKey,
			Model:     modelID,
			BatchSize: cfg.Reranker.BatchSize,
			Logger:    logger,
		}), nil
	}, logger)

	retrieverSvc := retriever.New(
		collectionSource{colls},
		sparseSource{colls},
		store,
		embedders,
		rerankers,
		retriever.Options{
			DefaultStrategy: domain.Strategy(cfg.Retrieval.Strategy),
			RetrievalTopK:   cfg.Retrieval.RetrievalTopK,
			RerankerTopK:    cfg.Retrieval.RerankerTopK,
			QueryTimeout:    time.Duration(cfg.Retrieval.QueryTimeoutSec) * time.Second,
			HybridAlpha:     cfg.Retrieval.HybridAlpha,
		},
		logger,
	)

	var extractor domain.Extractor = extract.Plaintext{}
	if cfg.Corpus.ExtractorURL != "" {
		extractor = extract.NewHTTP(cfg.Corpus.ExtractorURL, time.Duration(cfg.Indexing.FileTimeoutSec)*time.Second)
	}

	indexerSvc := indexer.New(
		bucket.NewFS(cfg.Corpus.Root, cfg.Corpus.Extensions...),
		extractor,
		colls,
		store,
		embedders,
		logger,
	)

	jobsMgr, err := jobs.NewManager(cfg.DataDir+"/jobs.jsonl", logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		colls:     colls,
		embedders: embedders,
		rerankers: rerankers,
		retriever: retrieverSvc,
		indexer:   indexerSvc,
		jobs:      jobsMgr,
	}, nil
}

func (a *app) close() {
	a.store.Close()
	_ = a.logger.Sync()
}

// collectionSource adapts the manager to the retriever contract.
type collectionSource struct{ m *collections.Manager }

func (s collectionSource) Get(name string) (domain.Collection, error) { return s.m.Get(name) }

// sparseSource adapts the manager to the retriever contract.
type sparseSource struct{ m *collections.Manager }

func (s sparseSource) Sparse(name string) (retriever.SparseIndex, error) { return s.m.Sparse(name) }
