package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jupyter-cache/nbcache/internal/notebook"
	"github.com/jupyter-cache/nbcache/internal/reader"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached executed notebooks",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached notebook records",
	RunE:  runCacheList,
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info <pk>",
	Short: "Show a cache record's details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInfo,
}

var cacheAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Cache an already-executed notebook file directly",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheAdd,
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "remove <pk>",
	Short: "Evict a cache record",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheRemove,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <pk>",
	Short: "Print a cached notebook's canonical JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheShow,
}

var cacheDiffCmd = &cobra.Command{
	Use:   "diff <pk> <path>",
	Short: "Diff a cached notebook against another notebook file",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheDiff,
}

var cacheOutputCmd = &cobra.Command{
	Use:   "output <pk> <relative-path>",
	Short: "Print a cached notebook's artifact",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheOutput,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheInfoCmd, cacheAddCmd, cacheRemoveCmd, cacheShowCmd, cacheDiffCmd, cacheOutputCmd)

	cacheAddCmd.Flags().String("reader", "notebook-json", "reader to use for this notebook")
	cacheAddCmd.Flags().Bool("overwrite", false, "overwrite an existing cache record for this fingerprint")
	cacheAddCmd.Flags().String("description", "", "description to attach to the cache record")
}

func runCacheList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	all, err := a.store.CacheAll(context.Background())
	if err != nil {
		return fmt.Errorf("list cache records: %w", err)
	}
	for _, rec := range all {
		fmt.Printf("%d\t%s\t%s\t%s\n", rec.PK, rec.Hashkey[:12], humanize.Time(rec.Accessed), rec.URI)
	}
	return nil
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pk, err := parsePK(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	rec, err := a.store.CacheGetByPK(ctx, pk)
	if err != nil {
		return fmt.Errorf("get cache record: %w", err)
	}
	bundle, _, err := a.engine.Retrieve(ctx, pk)
	if err != nil {
		return fmt.Errorf("retrieve cache record: %w", err)
	}

	fmt.Printf("pk:          %d\n", rec.PK)
	fmt.Printf("hashkey:     %s\n", rec.Hashkey)
	fmt.Printf("uri:         %s\n", rec.URI)
	fmt.Printf("description: %s\n", rec.Description)
	fmt.Printf("created:     %s\n", humanize.Time(rec.Created))
	fmt.Printf("accessed:    %s\n", humanize.Time(rec.Accessed))
	fmt.Printf("artifacts:   %d\n", len(bundle.Artifacts))
	for path := range bundle.Artifacts {
		fmt.Printf("  %s\n", path)
	}
	return nil
}

func runCacheAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	readerName, _ := cmd.Flags().GetString("reader")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	description, _ := cmd.Flags().GetString("description")

	rd, err := reader.Lookup(readerName)
	if err != nil {
		return err
	}
	nb, err := rd.Read(args[0])
	if err != nil {
		return fmt.Errorf("read notebook: %w", err)
	}

	rec, err := a.engine.IngestFile(context.Background(), nb, args[0], nil, nil, description, true, overwrite)
	if err != nil {
		return fmt.Errorf("cache notebook: %w", err)
	}
	fmt.Printf("Cached %s as pk=%d (hashkey=%s)\n", args[0], rec.PK, rec.Hashkey[:12])
	return nil
}

func runCacheRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pk, err := parsePK(args[0])
	if err != nil {
		return err
	}
	if err := a.engine.Evict(context.Background(), pk); err != nil {
		return fmt.Errorf("evict cache record: %w", err)
	}
	fmt.Printf("Evicted pk=%d\n", pk)
	return nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pk, err := parsePK(args[0])
	if err != nil {
		return err
	}
	bundle, _, err := a.engine.Retrieve(context.Background(), pk)
	if err != nil {
		return fmt.Errorf("retrieve cache record: %w", err)
	}
	text, err := notebook.Write(bundle.NB)
	if err != nil {
		return fmt.Errorf("serialize notebook: %w", err)
	}
	fmt.Println(string(text))
	return nil
}

func runCacheDiff(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pk, err := parsePK(args[0])
	if err != nil {
		return err
	}

	rd, err := reader.Lookup("notebook-json")
	if err != nil {
		return err
	}
	nb, err := rd.Read(args[1])
	if err != nil {
		return fmt.Errorf("read notebook: %w", err)
	}

	patch, err := a.engine.Diff(context.Background(), pk, nb, args[1])
	if err != nil {
		return fmt.Errorf("diff cache record: %w", err)
	}
	fmt.Println(patch)
	return nil
}

func runCacheOutput(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pk, err := parsePK(args[0])
	if err != nil {
		return err
	}

	var content []byte
	err = a.engine.WithArtifacts(context.Background(), pk, func(dir string) error {
		data, readErr := os.ReadFile(filepath.Join(dir, filepath.FromSlash(args[1])))
		content = data
		return readErr
	})
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	fmt.Print(string(content))
	return nil
}

func parsePK(s string) (int64, error) {
	pk, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pk %q: %w", s, err)
	}
	return pk, nil
}
