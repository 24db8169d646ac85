// Command inflight dispatches and inspects tracked backend requests.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/inflight/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "inflight: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
