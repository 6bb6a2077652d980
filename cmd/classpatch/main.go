package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/skdltmxn/classpatch/pipeline"
)

// Exit statuses.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "%s %v\n", errorStyle.Render("error:"), err)

	var usageErr *pipeline.UsageError
	if errors.As(err, &usageErr) {
		fmt.Fprint(stderr, rootCmd.UsageString())
		return exitUsage
	}
	return exitError
}
