// Command weighbridged bridges a serial weighing indicator to an HTTP API.
//
// Configuration is resolved from defaults, an optional TOML file, the
// WEIGHBRIDGE_* environment and command-line flags, in ascending precedence.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scalewire/go-weighbridge/config"
	"github.com/scalewire/go-weighbridge/httpapi"
	"github.com/scalewire/go-weighbridge/logger"
	"github.com/scalewire/go-weighbridge/scale"
)

const shutdownTimeout = 10 * time.Second

var exampleUsage = strings.TrimSpace(`
  weighbridged --port /dev/ttyUSB0 --baud 9600
  weighbridged --config /etc/weighbridge/config.toml --watch-config
  weighbridged --port /dev/ttyUSB0 --once
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func main() {
	cfg := config.Default()

	var (
		cfgPath string
		once    bool
	)

	root := &cobra.Command{
		Use:     "weighbridged",
		Short:   "Bridge a serial weighing indicator to an HTTP API",
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = config.DefaultPath()
			}

			// Flags that were set on the command line win over the file and
			// the environment.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if config.Exists(cfgFile) {
				fc, err := config.LoadFile(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := config.ApplyFile(&cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := config.ApplyEnv(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			logger.SetDefault(log)

			if once {
				return readOnce(cfg, log)
			}

			return run(cmd.Context(), cfg, cfgFile, changed, log)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", fmt.Sprintf("path to config file (default: %s)", config.DefaultPath()))
	root.Flags().StringVar(&cfg.Port, "port", cfg.Port, "serial device path")
	root.Flags().IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "serial baud rate")
	root.Flags().DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "serial read timeout")
	root.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "idle pause between poll cycles")
	root.Flags().DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "pause after a failed read before retrying")
	root.Flags().IntVar(&cfg.ErrorThreshold, "error-threshold", cfg.ErrorThreshold, "consecutive read errors before the session recovers")
	root.Flags().DurationVar(&cfg.RecoveryPause, "recovery-pause", cfg.RecoveryPause, "pause between closing and reopening the device")
	root.Flags().DurationVar(&cfg.CloseTimeout, "close-timeout", cfg.CloseTimeout, "bounded wait for the read loop to stop")
	root.Flags().DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "health probe read timeout")
	root.Flags().DurationVar(&cfg.FreshTimeout, "fresh-timeout", cfg.FreshTimeout, "default bound for fresh reads")
	root.Flags().StringVar(&cfg.Framing, "framing", cfg.Framing, `token framing: "delimiter" or "pattern"`)
	root.Flags().StringVar(&cfg.MatchPolicy, "match-policy", cfg.MatchPolicy, "pattern extractor match policy")
	root.Flags().StringVar(&cfg.TokenLayout, "token-layout", cfg.TokenLayout, "weight token layout")
	root.Flags().Float64Var(&cfg.FixedDivisor, "fixed-divisor", cfg.FixedDivisor, "divisor for the fixed-divisor layout")
	root.Flags().StringVar(&cfg.StableStatuses, "stable-statuses", cfg.StableStatuses, "status letters marking a stable reading")
	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "http listen address")
	root.Flags().StringSliceVar(&cfg.CORSOrigins, "cors-origins", cfg.CORSOrigins, "allowed CORS origins")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error or fatal")
	root.Flags().StringVar(&cfg.ErrorLog, "error-log", cfg.ErrorLog, "append logs to this file instead of stdout")
	root.Flags().BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "watch the config file and apply serial settings on change")
	root.Flags().BoolVar(&once, "once", false, "read a single weight, print it as JSON and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "weighbridged:", err)
		os.Exit(1)
	}
}

func buildLogger(cfg config.Config) (logger.Logger, error) {
	if cfg.ErrorLog == "" {
		return logger.NewSlog(cfg.Level(), false), nil
	}

	f, err := os.OpenFile(cfg.ErrorLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}

	return logger.NewSlogWithWriter(f, cfg.Level(), false), nil
}

// readOnce samples the device once and prints the reading to stdout.
func readOnce(cfg config.Config, log logger.Logger) error {
	sessionCfg, err := cfg.ToSessionConfig(log)
	if err != nil {
		return err
	}

	svc := scale.NewService(sessionCfg)
	if err := svc.Open(); err != nil {
		return err
	}
	defer func() { _ = svc.Stop() }()

	reading, err := svc.Fresh(cfg.FreshTimeout)
	if err != nil {
		return err
	}

	out, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return nil
}

func run(ctx context.Context, cfg config.Config, cfgFile string, changed map[string]bool, log logger.Logger) error {
	sessionCfg, err := cfg.ToSessionConfig(log)
	if err != nil {
		return err
	}

	svc := scale.NewService(sessionCfg)

	logPorts(svc, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The API serves regardless so health can report the device state; the
	// session recovers or is restarted through POST /api/restart.
	if err := svc.Start(); err != nil {
		log.Warn("serial session failed to start, serving api anyway",
			"port", cfg.Port, "error", err.Error())
	} else {
		log.Info("serial session started", "port", cfg.Port, "baud", cfg.BaudRate)
	}

	server := httpapi.New(svc, httpapi.Options{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Run() }()

	if cfg.WatchConfig {
		if config.Exists(cfgFile) {
			watcher := config.NewWatcher(cfgFile, config.DefaultDebounce, log)
			go func() {
				if err := watcher.Run(ctx); err != nil {
					log.Error("config watcher stopped", "error", err.Error())
				}
			}()
			go reloadOnChange(ctx, watcher, svc, cfg, cfgFile, changed, log)
		} else {
			log.Warn("watch-config set but config file does not exist", "path", cfgFile)
		}
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		_ = svc.Stop()

		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err.Error())
	}

	if err := svc.Stop(); err != nil {
		log.Error("session close", "error", err.Error())
	}

	log.Info("weighbridged stopped")

	return nil
}

func logPorts(svc *scale.Service, log logger.Logger) {
	ports, err := svc.ListPorts()
	if err != nil {
		log.Warn("list serial ports", "error", err.Error())

		return
	}
	if len(ports) == 0 {
		log.Info("no serial ports detected")

		return
	}

	for _, p := range ports {
		log.Info("serial port detected", "name", p.Name, "description", p.Description)
	}
}

// reloadOnChange re-resolves the configuration whenever the watcher fires and
// swaps the serial session in place. Flags set at startup keep their
// precedence; listen address and log level changes require a restart.
func reloadOnChange(ctx context.Context, w *config.Watcher, svc *scale.Service,
	base config.Config, cfgFile string, changed map[string]bool, log logger.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Events():
			next := base

			fc, err := config.LoadFile(cfgFile)
			if err != nil {
				log.Error("config reload: load file", "error", err.Error())

				continue
			}
			if err := config.ApplyFile(&next, fc, changed); err != nil {
				log.Error("config reload: apply file", "error", err.Error())

				continue
			}
			if err := config.ApplyEnv(&next, changed); err != nil {
				log.Error("config reload: apply env", "error", err.Error())

				continue
			}
			if err := next.Validate(); err != nil {
				log.Error("config reload rejected", "error", err.Error())

				continue
			}

			if next.ListenAddr != base.ListenAddr {
				log.Warn("listen address change requires a restart",
					"current", base.ListenAddr, "requested", next.ListenAddr)
			}

			sessionCfg, err := next.ToSessionConfig(log)
			if err != nil {
				log.Error("config reload: session config", "error", err.Error())

				continue
			}
			if err := svc.ApplySessionConfig(sessionCfg); err != nil {
				log.Error("config reload: apply session config", "error", err.Error())

				continue
			}

			log.Info("configuration reloaded", "port", next.Port, "baud", next.BaudRate)
			base = next
		}
	}
}
