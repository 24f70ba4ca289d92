package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/indexer"
	"github.com/alexban14/ai.dok/internal/ops"
)

var (
	indexMaxConcurrent int
	indexBatchSize     int
	indexBySection     bool
	indexOpsPort       int
)

var indexCmd = &cobra.Command{
	Use:   "index [collection]",
	Short: "Bulk-index the corpus into a collection",
	Long: `Enumerates the corpus, skips documents already indexed, and fills the
BM25 and vector indexes of the collection. The run is resume-safe: an
interrupted job continues where its last checkpoint left off.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().IntVar(&indexMaxConcurrent, "max-concurrent", 0, "in-flight files (default from config)")
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", 0, "flush batch size (default from config)")
	indexCmd.Flags().BoolVar(&indexBySection, "section-chunking", true, "chunk along parsed RCP sections")
	indexCmd.Flags().IntVar(&indexOpsPort, "ops-port", 0, "serve /healthz and /metrics on this port while indexing")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	collection := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if indexOpsPort > 0 {
		opsSrv := ops.NewServer(indexOpsPort, map[string]ops.ReadinessCheck{
			"vector_store": func(ctx context.Context) error {
				_, err := a.store.ListCollections(ctx)
				return err
			},
		}, a.logger)
		opsSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = opsSrv.Shutdown(shutdownCtx)
		}()
	}

	opts := indexer.Options{
		MaxConcurrent:      firstPositive(indexMaxConcurrent, a.cfg.Indexing.MaxConcurrent),
		BatchSize:          firstPositive(indexBatchSize, a.cfg.Indexing.BatchSize),
		UseSectionChunking: indexBySection,
		ChunkSize:          a.cfg.Chunking.Size,
		ChunkOverlap:       a.cfg.Chunking.Overlap,
		FileTimeout:        time.Duration(a.cfg.Indexing.FileTimeoutSec) * time.Second,
	}

	jobID, err := a.jobs.Start("index", collection, func(jobCtx context.Context, update func(domain.Progress)) (string, error) {
		runCtx, cancel := context.WithCancel(jobCtx)
		defer cancel()
		go func() {
			// forward the CLI interrupt to the job as a cooperative cancel
			select {
			case <-ctx.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()

		rep, err := a.indexer.ProcessBucket(runCtx, collection, opts, update)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d processed, %d skipped, %d failed, %d chunks",
			rep.ProcessedOK, rep.Skipped, rep.Failed, rep.Chunks), nil
	})
	if err != nil {
		return err
	}

	a.logger.Info("Indexing job started",
		zap.String("job_id", jobID), zap.String("collection", collection))

	// the CLI is its own caller: poll the job it started until terminal
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastCurrent := -1
	for range ticker.C {
		rec, err := a.jobs.Status(jobID)
		if err != nil {
			return err
		}
		if rec.Progress.Current != lastCurrent && rec.Progress.Total > 0 {
			lastCurrent = rec.Progress.Current
			cmd.Printf("  [%d/%d] %s\n", rec.Progress.Current, rec.Progress.Total, rec.Progress.CurrentItem)
		}
		if !rec.Status.Terminal() {
			continue
		}

		switch rec.Status {
		case domain.JobCompleted:
			cmd.Printf("Done: %s\n", rec.Result)
			printFailedItems(cmd, rec.Progress.FailedItems)
			return nil
		case domain.JobCancelled:
			printFailedItems(cmd, rec.Progress.FailedItems)
			return fmt.Errorf("%w: indexing job %s", domain.ErrCancelled, jobID)
		default:
			printFailedItems(cmd, rec.Progress.FailedItems)
			return fmt.Errorf("indexing job %s failed: %s", jobID, rec.Error)
		}
	}
	return errors.New("unreachable")
}

func printFailedItems(cmd *cobra.Command, items []domain.FailedItem) {
	for _, it := range items {
		cmd.Printf("  failed: %s (%s)\n", it.ID, it.Reason)
	}
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
