// Command datagate deploys dataset containers and runs commands against them.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/datagate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
