// persistctl validates persist mapping files, prints the write plans of
// their session factory variants and checks database connectivity.
package main

import (
	"fmt"
	"os"

	"github.com/syssam/persist/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
