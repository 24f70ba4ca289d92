package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/retriever"
)

var (
	queryStrategy   string
	queryTopK       int
	queryCandidates int
	queryNoRerank   bool
	queryJSON       bool
)

var queryCmd = &cobra.Command{
	Use:   "query [collection] [question]",
	Short: "Retrieve ranked passages for a clinical question",
	Long: `Runs the retrieval strategy against a collection and prints the top
passages with their source document and section, ready for
citation-grounded answer generation.`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryStrategy, "strategy", "", "dense, sparse, or hybrid (default from config)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "n", 0, "final result count (default from config)")
	queryCmd.Flags().IntVar(&queryCandidates, "candidates", 0, "pre-rerank pool per sub-retrieval (default from config)")
	queryCmd.Flags().BoolVar(&queryNoRerank, "no-rerank", false, "skip cross-encoder reranking")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	collection, question := args[0], args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var strategy domain.Strategy
	if queryStrategy != "" {
		strategy, err = domain.ParseStrategy(queryStrategy)
		if err != nil {
			return err
		}
	}

	res, err := a.retriever.Retrieve(ctx, retriever.Request{
		Query:         question,
		Collection:    collection,
		Strategy:      strategy,
		RetrievalTopK: queryCandidates,
		RerankerTopK:  queryTopK,
		Rerank:        !queryNoRerank,
	})
	if err != nil {
		return err
	}

	if queryJSON {
		return printQueryJSON(cmd, res)
	}
	printQueryText(cmd, res)
	return nil
}

func printQueryJSON(cmd *cobra.Command, res domain.RetrievalResult) error {
	out := struct {
		Results       []domain.RetrievedChunk `json:"results"`
		Strategy      domain.Strategy         `json:"strategy"`
		LowConfidence bool                    `json:"low_confidence"`
	}{res.Results, res.Strategy, res.LowConfidence}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printQueryText(cmd *cobra.Command, res domain.RetrievalResult) {
	if res.LowConfidence {
		cmd.Println("! low confidence: no sufficiently relevant passage found")
	}
	if len(res.Results) == 0 {
		cmd.Println("No results.")
		return
	}

	cmd.Printf("Strategy: %s\n\n", res.Strategy)
	for i, r := range res.Results {
		cmd.Printf("  [%d] %s §%s %s (%.4f)\n", i+1, r.SourceID, r.SectionNumber, r.SectionTitle, r.RelevanceScore)
		cmd.Printf("      %s\n\n", r.Text)
	}
}
