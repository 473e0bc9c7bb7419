package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jupyter-cache/nbcache/internal/cache"
	"github.com/jupyter-cache/nbcache/internal/executor"
	"github.com/jupyter-cache/nbcache/internal/notebook"
)

var notebookCmd = &cobra.Command{
	Use:   "notebook",
	Short: "Manage notebooks tracked in the project registry",
}

var notebookAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a notebook for later execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotebookAdd,
}

var notebookRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Unregister a notebook",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotebookRemove,
}

var notebookListCmd = &cobra.Command{
	Use:   "list [path]...",
	Short: "List registered notebooks",
	RunE:  runNotebookList,
}

var notebookInfoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Show a registered notebook's details",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotebookInfo,
}

var notebookMergeCmd = &cobra.Command{
	Use:   "merge <path> <output>",
	Short: "Merge a notebook's cached outputs into an output file",
	Args:  cobra.ExactArgs(2),
	RunE:  runNotebookMerge,
}

var notebookExecuteCmd = &cobra.Command{
	Use:   "execute <path>...",
	Short: "Execute the given registered notebooks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNotebookExecute,
}

func init() {
	rootCmd.AddCommand(notebookCmd)
	notebookCmd.AddCommand(notebookAddCmd, notebookRemoveCmd, notebookListCmd, notebookInfoCmd, notebookMergeCmd, notebookExecuteCmd)

	notebookAddCmd.Flags().String("reader", "notebook-json", "reader to use for this notebook")
	notebookAddCmd.Flags().StringSlice("asset", nil, "asset file path this notebook depends on (repeatable)")

	notebookExecuteCmd.Flags().Bool("allow-errors", false, "continue past cell errors instead of excepting")
	notebookExecuteCmd.Flags().Duration("timeout", 30*time.Second, "per-cell execution timeout")
}

func runNotebookAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	reader, _ := cmd.Flags().GetString("reader")
	assets, _ := cmd.Flags().GetStringSlice("asset")

	rec, err := a.registry.AddNb(context.Background(), args[0], reader, assets)
	if err != nil {
		return fmt.Errorf("add notebook: %w", err)
	}
	fmt.Printf("Registered %s (pk=%d)\n", rec.URI, rec.PK)
	return nil
}

func runNotebookRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registry.RemoveNb(context.Background(), args[0]); err != nil {
		return fmt.Errorf("remove notebook: %w", err)
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runNotebookList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.registry.List(context.Background(), args, nil)
	if err != nil {
		return fmt.Errorf("list notebooks: %w", err)
	}
	for _, rec := range records {
		status := "unexecuted"
		if cached, err := a.registry.CachedForNb(context.Background(), rec.URI); err == nil && cached != nil {
			status = "cached"
		}
		fmt.Printf("%d\t%s\t%s\n", rec.PK, status, rec.URI)
	}
	return nil
}

func runNotebookInfo(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	nb, err := a.registry.GetNb(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get notebook: %w", err)
	}
	fmt.Printf("uri:      %s\n", nb.Record.URI)
	fmt.Printf("pk:       %d\n", nb.Record.PK)
	fmt.Printf("created:  %s\n", nb.Record.Created.Format(time.RFC3339))
	fmt.Printf("assets:   %v\n", nb.Record.Assets)
	fmt.Printf("cells:    %d (%d code)\n", len(nb.NB.Cells), len(nb.NB.CodeCells()))
	if nb.Record.Traceback != nil {
		fmt.Printf("traceback:\n%s\n", *nb.Record.Traceback)
	}
	return nil
}

func runNotebookMerge(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	nb, err := a.registry.GetNb(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get notebook: %w", err)
	}

	pk, merged, err := a.engine.Merge(ctx, nb.NB, cache.DefaultMergeNBMetaKeys, nil)
	if err != nil {
		return fmt.Errorf("merge cached outputs: %w", err)
	}

	text, err := notebook.Write(merged)
	if err != nil {
		return fmt.Errorf("serialize merged notebook: %w", err)
	}
	if err := writeFile(args[1], text); err != nil {
		return fmt.Errorf("write merged notebook: %w", err)
	}
	fmt.Printf("Merged cache pk=%d into %s\n", pk, args[1])
	return nil
}

func runNotebookExecute(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	allowErrors, _ := cmd.Flags().GetBool("allow-errors")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	result, err := a.coordinator().Run(context.Background(), executor.RunOptions{
		Force:       true,
		FilterURIs:  args,
		Timeout:     timeout,
		AllowErrors: allowErrors,
		Scheduling:  executor.Serial,
		Directory:   executor.InPlace,
	})
	if err != nil {
		return fmt.Errorf("execute notebooks: %w", err)
	}

	fmt.Printf("succeeded: %d, excepted: %d, errored: %d\n",
		len(result.Succeeded), len(result.Excepted), len(result.Errored))
	return nil
}
