// Command nbcache caches executed Jupyter notebooks by content fingerprint.
package main

import (
	"fmt"
	"os"

	"github.com/jupyter-cache/nbcache/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
