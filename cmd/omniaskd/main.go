// Command omniaskd runs the stream relay: it accepts chat requests over
// HTTP, fans each one to the configured upstream provider, and re-emits
// the answer as the outbound SSE protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nirmal91/omni-ask/internal/adapter/keystore"
	"github.com/nirmal91/omni-ask/internal/adapter/llm"
	"github.com/nirmal91/omni-ask/internal/adapter/relay"
	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
	"github.com/nirmal91/omni-ask/internal/infra/logger"
	"github.com/nirmal91/omni-ask/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`omniaskd - stream relay for omni-ask

USAGE:
    omniaskd [FLAGS]

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: OMNIASK_* variables override config
    Keystore passphrase: OMNIASK_KEYSTORE_KEY (never stored in the file)

EXAMPLES:
    omniaskd                         # Run with config.yaml
    omniaskd --config /etc/omniask/config.yaml`)
}

func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], "--config="):
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	return "config.yaml"
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	var keys domain.CredentialStore
	if cfg.Keystore.Path != "" {
		passphrase := os.Getenv("OMNIASK_KEYSTORE_KEY")
		if passphrase == "" {
			return fmt.Errorf("keystore: path configured but OMNIASK_KEYSTORE_KEY is not set")
		}
		ks, err := keystore.Open(cfg.Keystore.Path, passphrase)
		if err != nil {
			return fmt.Errorf("keystore: %w", err)
		}
		defer ks.Close()
		keys = ks
		log.Info("keystore opened", "path", cfg.Keystore.Path)
	}

	streamers, err := llm.BuildStreamers(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	sharedKeys := make(map[domain.Provider]string)
	for _, p := range cfg.LLM.Providers {
		if p.APIKey == "" {
			continue
		}
		provider, err := domain.ParseProvider(p.Name)
		if err != nil {
			continue
		}
		sharedKeys[provider] = p.APIKey
	}

	auth := relay.NewStaticTokenAuth(cfg.Relay.Auth.Tokens)
	srv := relay.NewServer(cfg.Relay, auth, relay.Deps{
		Streamers:  streamers,
		Keys:       keys,
		SharedKeys: sharedKeys,
		Logger:     log,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving", "providers", len(streamers), "keystore", keys != nil)
	if err := srv.Start(runCtx); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
