// voicegatectl - controls a running voicegate daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/voicegate/internal/control"
)

const (
	defaultAddr = "localhost:50061"
	callTimeout = 30 * time.Second
)

const usage = `usage: voicegatectl <start|stop|status|watch|health>

Environment:
  VOICEGATE_GRPC_ADDR  daemon control address (default localhost:50061)
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	addr := os.Getenv("VOICEGATE_GRPC_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	client, err := control.New(addr)
	if err != nil {
		slog.Error("failed to create control client", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client, os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *control.Client, cmd string) error {
	if cmd == "watch" {
		return c.Watch(ctx, printStatus)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var (
		view control.StatusView
		err  error
	)
	switch cmd {
	case "start":
		view, err = c.Start(ctx)
	case "stop":
		view, err = c.Stop(ctx)
	case "status":
		view, err = c.Status(ctx)
	case "health":
		ok, err := c.Healthy(ctx)
		if err != nil {
			return err
		}
		if ok {
			fmt.Println("listening")
		} else {
			fmt.Println("not listening")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	printStatus(view)
	return nil
}

func printStatus(v control.StatusView) {
	line := fmt.Sprintf("%s  state=%s capture=%s  %s", v.UpdatedAt.Format(time.TimeOnly), v.State, v.Capture, v.Message)
	if v.StopReason != "" {
		line += "  reason=" + v.StopReason
	}
	if v.Transcript != "" {
		line += fmt.Sprintf("  transcript=%q", v.Transcript)
	}
	fmt.Println(line)
}
