// The main package for the explorer-reindexer executable.
package main

import (
	"os"

	"github.com/JakeFAU/explorer-reindexer/cmd"
)

// main defers all execution to the Cobra CLI and exits with its status.
func main() {
	os.Exit(cmd.Execute())
}
