// Command authcli signs in to the accounts API from a terminal and keeps
// the session between runs.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sakif/accounts/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
