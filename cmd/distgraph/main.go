// Command distgraph partitions graphs and runs the processes of a serving
// cluster. Every subcommand reads and writes the same artifact layout, so a
// graph partitioned here can be served from a local directory or an
// S3-compatible object store without conversion.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
