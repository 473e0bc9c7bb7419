package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jupyter-cache/nbcache/internal/executor"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the cache root as a whole",
}

var projectInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the cache root, writing its version marker",
	RunE:  runProjectInit,
}

var projectClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached notebook from the cache root",
	RunE:  runProjectClear,
}

var projectVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the cache root's on-disk schema version",
	RunE:  runProjectVersion,
}

var projectLimitCmd = &cobra.Command{
	Use:   "limit [new-limit]",
	Short: "Get or set the cache's eviction limit (cache_limit)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProjectLimit,
}

var projectExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute every registered notebook that is not yet cached",
	RunE:  runProjectExecute,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectInitCmd, projectClearCmd, projectVersionCmd, projectLimitCmd, projectExecuteCmd)

	projectExecuteCmd.Flags().Bool("force", false, "re-execute even already-cached notebooks")
	projectExecuteCmd.Flags().Bool("parallel", false, "execute notebooks concurrently")
	projectExecuteCmd.Flags().Bool("allow-errors", false, "continue past cell errors instead of excepting")
	projectExecuteCmd.Flags().Duration("timeout", 30*time.Second, "per-cell execution timeout")
}

func runProjectInit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.engine.Init(ctx); err != nil {
		return fmt.Errorf("initialize cache root: %w", err)
	}
	fmt.Printf("Initialized cache root at %s\n", a.cfg.CacheRoot)
	return nil
}

func runProjectClear(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Clear(context.Background()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Println("Cache cleared.")
	return nil
}

func runProjectVersion(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	version, err := a.engine.Version(context.Background())
	if err != nil {
		return fmt.Errorf("read cache version: %w", err)
	}
	if version == "" {
		fmt.Println("(uninitialized)")
		return nil
	}
	fmt.Println(version)
	return nil
}

func runProjectLimit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if len(args) == 0 {
		limit, err := a.engine.CacheLimit(ctx)
		if err != nil {
			return fmt.Errorf("get cache limit: %w", err)
		}
		fmt.Println(limit)
		return nil
	}

	var limit int
	if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil {
		return fmt.Errorf("invalid limit %q: %w", args[0], err)
	}
	if err := a.engine.SetCacheLimit(ctx, limit); err != nil {
		return fmt.Errorf("set cache limit: %w", err)
	}
	fmt.Printf("cache_limit set to %d\n", limit)
	return nil
}

func runProjectExecute(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	force, _ := cmd.Flags().GetBool("force")
	parallel, _ := cmd.Flags().GetBool("parallel")
	allowErrors, _ := cmd.Flags().GetBool("allow-errors")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	scheduling := executor.Serial
	if parallel {
		scheduling = executor.Parallel
	}

	result, err := a.coordinator().Run(context.Background(), executor.RunOptions{
		Force:       force,
		Timeout:     timeout,
		AllowErrors: allowErrors,
		Scheduling:  scheduling,
		Directory:   executor.InPlace,
	})
	if err != nil {
		return fmt.Errorf("execute notebooks: %w", err)
	}

	fmt.Printf("succeeded: %d, excepted: %d, errored: %d\n",
		len(result.Succeeded), len(result.Excepted), len(result.Errored))
	for _, uri := range result.Excepted {
		fmt.Printf("  excepted: %s\n", uri)
	}
	for _, uri := range result.Errored {
		fmt.Printf("  errored:  %s\n", uri)
	}
	return nil
}
