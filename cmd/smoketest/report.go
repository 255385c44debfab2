package main

import (
	"context"
	"fmt"
	"io"
	"time"

	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/olekukonko/tablewriter"
)

var prompts = map[string]string{
	"chat":      "Say hello in exactly five words.",
	"summarize": "Summarize in one sentence: the cat sat on the mat while the dog watched from the porch.",
	"translate": "Translate to French: good morning, my friend.",
	"codegen":   "Write a Go function that reverses a string.",
}

const fallbackPrompt = "Reply with the single word: pong."

type result struct {
	Module  string
	Variant string
	Model   string
	OK      bool
	Err     string
	Elapsed time.Duration
	Chars   int
}

func run(ctx context.Context, opts options) ([]result, error) {
	logger, err := glog.NewConsoleWithName("smoketest", glog.LevelInfo)
	if err != nil {
		return nil, err
	}

	cli, err := newClient(opts.base, opts.timeout)
	if err != nil {
		return nil, err
	}
	if err := cli.status(ctx); err != nil {
		return nil, err
	}
	if err := cli.login(ctx, opts.username, opts.password); err != nil {
		return nil, err
	}
	logger.Info("logged in", zap.String("base", opts.base), zap.String("username", opts.username))

	modules := opts.modules
	if len(modules) == 0 {
		infos, err := cli.listModules(ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if _, ok := prompts[info.Name]; ok {
				modules = append(modules, info.Name)
			}
		}
	}

	var results []result
	for _, module := range modules {
		prompt, ok := prompts[module]
		if !ok {
			prompt = fallbackPrompt
		}
		if opts.noStream {
			results = append(results, runJSON(ctx, cli, module, prompt))
		}
		if opts.stream {
			results = append(results, runStream(ctx, cli, module, prompt))
		}
	}
	return results, nil
}

func runJSON(ctx context.Context, cli *client, module, prompt string) result {
	start := time.Now()
	r := result{Module: module, Variant: "json"}
	res, err := cli.chat(ctx, module, prompt)
	r.Elapsed = time.Since(start)
	if err != nil {
		r.Err = err.Error()
		return r
	}
	r.OK = res.Text != ""
	r.Model = res.ModelId
	r.Chars = len(res.Text)
	if !r.OK {
		r.Err = "empty response text"
	}
	return r
}

func runStream(ctx context.Context, cli *client, module, prompt string) result {
	start := time.Now()
	r := result{Module: module, Variant: "sse"}
	text, err := cli.chatStream(ctx, module, prompt)
	r.Elapsed = time.Since(start)
	if err != nil {
		r.Err = err.Error()
		return r
	}
	r.OK = true
	r.Chars = len(text)
	return r
}

func printReport(w io.Writer, results []result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Module", "Variant", "Model", "Status", "Elapsed", "Chars", "Error"})
	passed := 0
	for _, r := range results {
		status := "FAIL"
		if r.OK {
			status = "ok"
			passed++
		}
		table.Append([]string{
			r.Module,
			r.Variant,
			r.Model,
			status,
			r.Elapsed.Round(time.Millisecond).String(),
			fmt.Sprintf("%d", r.Chars),
			r.Err,
		})
	}
	table.Render()
	fmt.Fprintf(w, "%d/%d passed\n", passed, len(results))
}
