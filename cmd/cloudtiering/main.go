// Command cloudtiering runs the filesystem tiering daemon: it watches a
// mount point for cold local files, demotes them to an S3-compatible
// remote store, and transparently promotes them back on access.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cloudtiering: %v\n", err)
		os.Exit(1)
	}
}
