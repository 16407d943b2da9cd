// Command civicroute runs the NGO assignment engine and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/civicroute/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
