// Command ratiometer annotates a video platform page with tier badges
// computed from like/dislike vote records.
//
// Usage:
//
//	ratiometer -config ratiometer.yaml        # run from YAML config
//	ratiometer -url https://www.youtube.com/  # quick run with defaults
//	ratiometer -set showVotes=false           # toggle a display preference
//	ratiometer -show                          # print current preferences
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/ratiometer"
	"github.com/hazyhaar/ratiometer/settings"
)

func main() {
	configPath := flag.String("config", "", "path to ratiometer.yaml config file")
	pageURL := flag.String("url", "", "annotate a single URL with default settings")
	storePath := flag.String("store", "", "override KV store path")
	diagAddr := flag.String("diag", "", "diagnostics listener address (e.g. 127.0.0.1:8666)")
	setPref := flag.String("set", "", "set a display preference (name=true|false) and exit")
	showPrefs := flag.Bool("show", false, "print current display preferences and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *storePath, *diagAddr, *setPref, *showPrefs); err != nil {
		logger.Error("ratiometer: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, storePath, diagAddr, setPref string, showPrefs bool) error {
	cfg := &ratiometer.Config{}
	if configPath != "" {
		loaded, err := ratiometer.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if pageURL != "" {
		cfg.Page.URL = pageURL
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if diagAddr != "" {
		cfg.Diagnostics.Addr = diagAddr
	}
	cfg.ApplyDefaults()

	if setPref != "" || showPrefs {
		return runPrefs(ctx, logger, cfg, setPref, showPrefs)
	}

	a := ratiometer.New(cfg, logger)
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop()

	var diag *ratiometer.DiagServer
	if cfg.Diagnostics.Addr != "" {
		diag = ratiometer.NewDiagServer(a, cfg.Diagnostics.Addr, logger)
		go func() {
			if err := diag.Start(); err != nil {
				logger.Error("ratiometer: diagnostics listener", "error", err)
			}
		}()
	}

	<-ctx.Done()
	if diag != nil {
		diag.Stop(context.Background())
	}
	return nil
}

// runPrefs reads or updates display preferences directly in the KV store,
// without launching a browser. A running annotator on the same store picks
// updates up through its change subscription.
func runPrefs(ctx context.Context, logger *slog.Logger, cfg *ratiometer.Config, setPref string, showPrefs bool) error {
	sync, closeStore, err := ratiometer.OpenSettings(ctx, cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if setPref != "" {
		name, rawVal, ok := strings.Cut(setPref, "=")
		if !ok {
			return fmt.Errorf("invalid -set value %q, want name=true|false", setPref)
		}
		val, err := strconv.ParseBool(rawVal)
		if err != nil {
			return fmt.Errorf("invalid -set value %q: %w", setPref, err)
		}

		fields := map[string]func(*settings.Display, bool){
			"showLabels":         func(d *settings.Display, v bool) { d.ShowLabels = v },
			"showTier":           func(d *settings.Display, v bool) { d.ShowTier = v },
			"showLikeRatio":      func(d *settings.Display, v bool) { d.ShowLikeRatio = v },
			"showRating":         func(d *settings.Display, v bool) { d.ShowRating = v },
			"showVotes":          func(d *settings.Display, v bool) { d.ShowVotes = v },
			"showEngagementRate": func(d *settings.Display, v bool) { d.ShowEngagementRate = v },
		}
		apply, ok := fields[name]
		if !ok {
			return fmt.Errorf("unknown preference %q", name)
		}

		err = sync.Update(ctx, func(d *settings.Display) { apply(d, val) })
		if err != nil {
			return fmt.Errorf("set preference: %w", err)
		}
		logger.Info("ratiometer: preference updated", "name", name, "value", val)
	}

	data, err := json.MarshalIndent(sync.Current(), "", "  ")
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
	return nil
}
