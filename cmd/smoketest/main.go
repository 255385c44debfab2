// Command smoketest exercises a running LLM Studio instance end to end:
// it logs in, walks the configured modules, runs one chat turn per module
// in JSON and SSE mode, and prints a result table. Intended for manual
// verification after deploys, not for CI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type options struct {
	base     string
	username string
	password string
	modules  []string
	stream   bool
	noStream bool
	timeout  time.Duration
}

func main() {
	var opts options
	var modulesCSV string
	flag.StringVar(&opts.base, "base", envOr("SMOKETEST_BASE", "http://localhost:3000"), "base URL of the instance under test")
	flag.StringVar(&opts.username, "username", envOr("SMOKETEST_USERNAME", "root"), "login username")
	flag.StringVar(&opts.password, "password", envOr("SMOKETEST_PASSWORD", ""), "login password")
	flag.StringVar(&modulesCSV, "modules", "", "comma separated module names (default: all text modules)")
	flag.BoolVar(&opts.stream, "stream", true, "run the SSE streaming variant")
	flag.BoolVar(&opts.noStream, "no-stream", true, "run the plain JSON variant")
	flag.DurationVar(&opts.timeout, "timeout", 120*time.Second, "per-request timeout")
	flag.Parse()

	if opts.password == "" {
		fmt.Fprintln(os.Stderr, "missing -password (or SMOKETEST_PASSWORD)")
		os.Exit(2)
	}
	if modulesCSV != "" {
		for _, m := range strings.Split(modulesCSV, ",") {
			if m = strings.TrimSpace(m); m != "" {
				opts.modules = append(opts.modules, m)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smoketest aborted: %+v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, results)
	for _, r := range results {
		if !r.OK {
			os.Exit(1)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
