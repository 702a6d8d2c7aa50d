// Package main provides the guestbook admin command.
//
// Usage:
//
//	guestbook [flags] <command> [args]
//
//	guestbook create-book "Alice's Book"
//	guestbook sign book-V1StGXR8_Z5jdHi6B-myT "hello"
//	guestbook -store sqlite -data-path ./data greetings book-V1StGXR8_Z5jdHi6B-myT
//	STORE_BACKEND=memory guestbook stress -n 1000 -c 32
//
// Global flags and the environment variables they override are documented
// in internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/listenupapp/guestbook/internal/config"
	"github.com/listenupapp/guestbook/internal/di"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		fmt.Fprintf(stderr, "guestbook: %v\n", err)
		return exitUsage
	}

	if len(cfg.Args) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	name := cfg.Args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "guestbook: unknown command %q\n\n", name)
		printUsage(stderr)
		return exitUsage
	}

	injector := di.NewContainer(cfg)
	defer injector.Shutdown()

	svc, err := di.Bootstrap(injector)
	if err != nil {
		fmt.Fprintf(stderr, "guestbook: failed to open store: %v\n", err)
		return exitFailure
	}

	if err := cmd.run(ctx, svc, cfg.Args[1:], stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "usage: guestbook %s %s\n", name, cmd.usage)
			return exitUsage
		}
		fmt.Fprintf(stderr, "guestbook %s: %v\n", name, err)
		if code := domainerrors.CodeOf(err); code.Retryable() {
			fmt.Fprintf(stderr, "(%s: safe to retry)\n", code)
		}
		return exitFailure
	}

	return exitOK
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: guestbook [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
}
