package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"ttiwatch/internal/app"
	"ttiwatch/internal/detector"
	"ttiwatch/internal/trace"
)

func main() {
	var (
		cfgPath   string
		tracePath string
		serve     bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&tracePath, "trace", "", "replay one recorded trace file and print the result")
	flag.BoolVar(&serve, "serve", false, "run the ingest server and spool watcher")
	flag.Parse()

	if tracePath != "" {
		if err := replayOnce(cfgPath, tracePath); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}
	if !serve {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	// Best-effort readiness for systemd Type=notify units; a no-op elsewhere.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	_ = a.Stop(context.Background())
}

// replayResult is the -trace output shape.
type replayResult struct {
	Detected   bool    `json:"detected"`
	TTIMillis  float64 `json:"tti_ms,omitempty"`
	LowerBound float64 `json:"lower_bound_ms,omitempty"`
	DCLEnd     float64 `json:"dcl_end_ms,omitempty"`
	LongTasks  int     `json:"long_tasks,omitempty"`
	Resets     int     `json:"resets,omitempty"`
}

// replayOnce replays a single trace with the configured thresholds (defaults
// when the config file is absent) and prints JSON to stdout.
func replayOnce(cfgPath, tracePath string) error {
	cfg := detector.Config{}
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := app.NewConfigManager(cfgPath).Load()
		if err != nil {
			return err
		}
		cfg, err = app.DetectorConfigFrom(loaded)
		if err != nil {
			return err
		}
	}

	res, ok, err := trace.ReplayFile(tracePath, cfg)
	if err != nil {
		return err
	}
	out := replayResult{Detected: ok}
	if ok {
		out.TTIMillis = float64(res.Timestamp)
		out.LowerBound = float64(res.LowerBound)
		out.DCLEnd = float64(res.DCLEnd)
		out.LongTasks = res.LongTasks
		out.Resets = res.Resets
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
