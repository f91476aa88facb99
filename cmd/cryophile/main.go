// Command cryophile is the process entry point: it hands os.Args to the
// cobra command tree in internal/cli and exits with the code spec.md §6
// assigns to the outcome.
package main

import (
	"os"

	"github.com/cryophile/cryophile/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
