// Command agentkit 用于创建、回放、部署和监控链上智能体。
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 执行命令行并返回进程退出码。
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return runWith(ctx, args, stdout, stderr, hostOptions{})
}

func runWith(ctx context.Context, args []string, stdout, stderr io.Writer, opts hostOptions) int {
	if err := newApp(stdout, stderr, opts).RunContext(ctx, args); err != nil {
		color.New(color.FgRed).Fprintf(stderr, "✗ %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer, opts hostOptions) *cli.App {
	return &cli.App{
		Name:      "agentkit",
		Usage:     "创建并运行自主链上智能体",
		Version:   "0.1.0",
		Writer:    stdout,
		ErrWriter: stderr,

		// 错误统一由 run 输出。
		ExitErrHandler: func(*cli.Context, error) {},

		Commands: []*cli.Command{
			initCommand(),
			testCommand(opts),
			deployCommand(opts),
			monitorCommand(opts),
			eventsCommand(),
			listCommand(),
		},
	}
}

func success(w io.Writer, format string, args ...any) {
	color.New(color.FgGreen).Fprintf(w, "✓ "+format+"\n", args...)
}
