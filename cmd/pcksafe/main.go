// Command pcksafe converts Mailman list configurations between pickle and
// JSON. Decoding runs in a confined copy of this binary.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pcksafe/pcksafe/sandbox"
)

func main() {
	if sandbox.IsWorker() {
		os.Exit(sandbox.RunWorker())
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "pcksafe",
		Short:         "Convert Mailman list configurations between pickle and JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		decodeCmd(g),
		encodeCmd(g),
		exportKeysCmd(g),
		dumpCmd(g),
		listPathCmd(g),
	)
	return rootCmd
}
