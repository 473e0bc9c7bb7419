// Package cmd implements nbcache's cobra command tree: project, notebook,
// and cache command groups driving the cache engine, project registry, and
// executor coordinator (spec §6).
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nbcache",
	Short: "Cache executed Jupyter notebooks",
	Long:  `nbcache content-addresses executed Jupyter notebooks so identical code is never re-run.`,
}

// Execute runs the command tree; it is the sole entry point called from
// cmd/nbcache/main.go.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "no effect; log output is always enabled")
}
