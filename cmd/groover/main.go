// Command groover bridges the audio of a Spotify account into a Discord voice
// channel.
//
// Usage:
//
//	groover [-config groover.yaml] [-env .env]
//
// Configuration is read from the optional YAML file and overridden by
// environment variables (DISCORD_TOKEN, SPOTIFY_ID, NATS_URL, ...), which may
// also come from a .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/groover/internal/app"
	"github.com/MrWong99/groover/internal/config"
	"github.com/MrWong99/groover/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	watch := flag.Duration("watch", 5*time.Second, "config file polling interval for log level reloads")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "groover: load %s: %v\n", *envPath, err)
		return 1
	}

	cfg, err := config.Load(*configPath, config.WithEnv(os.LookupEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "groover: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(&level))

	slog.Info("groover starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"guild", cfg.Discord.GuildID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "groover"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, app.ReloadHandler(&level),
			config.WithInterval(*watch),
			config.WithLoadOptions(config.WithEnv(os.LookupEnv)),
		)
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// newLogger returns a text logger on stderr whose level follows level.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
