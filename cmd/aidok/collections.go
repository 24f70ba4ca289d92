package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured collections and their stored counterparts",
	Args:  cobra.NoArgs,
	RunE:  runCollectionsList,
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a collection's vector data and BM25 index",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsDelete,
}

func init() {
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsDeleteCmd)
	rootCmd.AddCommand(collectionsCmd)
}

func runCollectionsList(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stored, err := a.store.ListCollections(ctx)
	if err != nil {
		return err
	}
	storedSet := make(map[string]bool, len(stored))
	for _, name := range stored {
		storedSet[name] = true
	}

	for _, col := range a.colls.List() {
		state := "not indexed"
		if storedSet[col.Name] {
			state = "indexed"
		}
		cmd.Printf("  %s  embedding=%s reranker=%s dim=%d  [%s]\n",
			col.Name, col.EmbeddingModelID, col.RerankerModelID, col.VectorDim, state)
		delete(storedSet, col.Name)
	}
	for name := range storedSet {
		cmd.Printf("  %s  [stored, not configured]\n", name)
	}
	return nil
}

func runCollectionsDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.DeleteCollection(ctx, name); err != nil {
		return err
	}
	if err := a.colls.Drop(name); err != nil {
		return err
	}
	cmd.Printf("Collection %s deleted.\n", name)
	return nil
}

var jobCmd = &cobra.Command{
	Use:   "job [job-id]",
	Short: "Show the status of a bulk job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

func init() {
	rootCmd.AddCommand(jobCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.jobs.Status(args[0])
	if err != nil {
		return err
	}

	cmd.Printf("Job %s (%s on %s): %s\n", rec.JobID, rec.Op, rec.Collection, rec.Status)
	if rec.Progress.Total > 0 {
		cmd.Printf("  progress: %d/%d (ok %d, failed %d)\n",
			rec.Progress.Current, rec.Progress.Total, rec.Progress.ProcessedOK, rec.Progress.ProcessedFailed)
	}
	if rec.Result != "" {
		cmd.Printf("  result: %s\n", rec.Result)
	}
	if rec.Error != "" {
		cmd.Printf("  error: %s\n", rec.Error)
	}
	printFailedItems(cmd, rec.Progress.FailedItems)
	return nil
}
