package main

import (
	"cinematch/auth"
	"cinematch/domain"
	"cinematch/infrastructure/api"
	"cinematch/infrastructure/hub"
	"cinematch/projection"
	"cinematch/repositories"
	"cinematch/runtime"
	"cinematch/services"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes of the command line client.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "cinematch: %v\n", err)
	}
	os.Exit(code)
}

// run parses the command, loads the configuration, opens the local cache
// and runs the command against a started orchestrator.
func run(args []string) (int, error) {
	cmd, err := parseCommand(args)
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		return exitConfig, err
	}

	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	identity, err := auth.IdentityFromToken(config.Token)
	if err != nil {
		return exitConfig, fmt.Errorf("access token: %w", err)
	}
	if identity.Expired(time.Now()) {
		return exitConfig, fmt.Errorf("access token expired at %s", identity.ExpiresAt.Format(time.RFC3339))
	}

	path := config.BadgerFilepath
	if path == "" {
		path = database.DefaultPath
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Debug("Closing BadgerDB...")
		_ = db.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := wire(config, log, identity.User, db)
	defer orchestrator.Stop()
	if err := orchestrator.Start(ctx); err != nil {
		if cmd.needsCandidates() {
			return exitRuntime, fmt.Errorf("loading candidates: %w", err)
		}
		log.Warn("Candidates not loaded", "error", err)
	}

	a := app{
		orchestrator: orchestrator,
		out:          newTerminal(os.Stdout, config.Colours),
		in:           os.Stdin,
		log:          log,
		config:       config,
	}
	if err := cmd.exec(ctx, a); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

func wire(config Config, log *slog.Logger, owner domain.UserRef, db *badger.DB) *runtime.Orchestrator {
	clk := clockwork.NewRealClock()

	client := api.NewClient(config.APIURL, config.Token, config.RequestTimeout, log)
	dialer := hub.NewDialer(hub.DialerConfig{
		URL:              config.HubURL,
		Token:            config.Token,
		HandshakeTimeout: config.HandshakeTimeout,
	}, log)
	channel := runtime.NewNotificationChannel(dialer, clk, log, config.EventBufferSize,
		runtime.DefaultBackOff(config.ReconnectWindow, config.ReconnectMaxDelay, clk))

	candidates := repositories.NewCandidateRepository(client, log, config.StrictStatus)
	memberships := repositories.NewMembershipRepository(db, log)
	messages := repositories.NewMessageRepository(db, log, config.CacheLimit)

	return runtime.NewOrchestrator(log, owner, channel,
		services.NewMatchService(candidates, client, clk, log),
		services.NewMembershipService(owner.ID, memberships, client, channel, clk, log),
		client, messages, clk,
		runtime.OrchestratorConfig{
			HistoryLimit:    config.HistoryLimit,
			RequestTimeout:  config.RequestTimeout,
			ReconcileWindow: projection.DefaultReconcileWindow,
		})
}
