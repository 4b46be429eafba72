// Sagent - AI coding agent server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/sagent/internal/agent"
	"github.com/ashureev/sagent/internal/api"
	"github.com/ashureev/sagent/internal/billing"
	"github.com/ashureev/sagent/internal/chain"
	"github.com/ashureev/sagent/internal/config"
	"github.com/ashureev/sagent/internal/identity"
	"github.com/ashureev/sagent/internal/jobs"
	"github.com/ashureev/sagent/internal/live"
	"github.com/ashureev/sagent/internal/logging"
	"github.com/ashureev/sagent/internal/middleware"
	"github.com/ashureev/sagent/internal/sandbox"
	"github.com/ashureev/sagent/internal/store"
	"github.com/ashureev/sagent/internal/thread"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format, cfg.IsDevelopment())
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "sandbox_driver", cfg.Sandbox.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	provider, sandboxPing, cleanup, err := newSandboxProvider(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize sandbox provider", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	transcript, err := agent.NewTranscriptLogger(agent.TranscriptLogConfig{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	hub := live.NewHub(0)
	model := agent.NewOpenAIModel(cfg.LLM.APIKey(), cfg.LLM.Endpoint())
	runner := agent.NewRunner(repo, provider, model, agent.Config{
		Template:       cfg.Sandbox.Template,
		SandboxTimeout: cfg.Sandbox.Timeout,
		CodingModel:    cfg.LLM.CodingModel,
		FastModel:      cfg.LLM.FastModel,
		MaxIterations:  cfg.LLM.MaxIterations,
		MaxTokens:      cfg.LLM.MaxTokens,

		Tools:            cfg.LLM.Tools,
		SummarizeRequest: cfg.LLM.SummarizeRequest,
	}, hub, transcript)

	worker := jobs.NewWorker(repo, runner.HandleEvent, cfg.Jobs.Concurrency, cfg.Jobs.PollInterval)
	if err := worker.Recover(ctx); err != nil {
		slog.Error("Failed to recover job queue", "error", err)
		os.Exit(1)
	}

	chainClient := chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.ContractAddress, cfg.Chain.RPCTimeout)
	if err := chainClient.CheckChainID(ctx, cfg.Chain.ChainID); err != nil {
		if errors.Is(err, chain.ErrWrongChain) {
			slog.Error("Chain RPC endpoint does not match SAGENT_CHAIN_ID", "error", err, "rpc_url", cfg.Chain.RPCURL)
			os.Exit(1)
		}
		slog.Warn("Chain RPC endpoint unreachable, payments cannot be verified until it recovers", "error", err, "rpc_url", cfg.Chain.RPCURL)
	}
	billingSvc := billing.NewService(repo, chainClient, chainClient.Contract(), billing.WithLocation(cfg.Location()))
	threadSvc := thread.NewService(repo, billingSvc, worker)

	var verifier *identity.Verifier
	if cfg.Privy.VerificationKey != "" {
		verifier, err = identity.NewVerifier(cfg.Privy.VerificationKey, cfg.Privy.AppID)
		if err != nil {
			slog.Error("Failed to initialize Privy verifier", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("Privy verification disabled, using anonymous device identities")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window)
	limiter.StartEviction(ctx)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, sandboxPing, cfg.Timeout.HealthCheck)
	liveHandler := live.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())
	threadHandler := api.NewThreadHandler(threadSvc, liveHandler, limiter)
	billingHandler := api.NewBillingHandler(billingSvc, cfg.Billing.AllowPlanOverride)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier, verifier == nil && cfg.IsDevelopment()))
		r.Use(identity.RequireUser)
		threadHandler.RegisterRoutes(r)
		billingHandler.RegisterRoutes(r)
	})

	// Create server. Live updates are websockets, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	worker.Start(ctx)
	if s, ok := provider.(sandbox.Sweeper); ok {
		sandbox.StartReaper(ctx, s, cfg.Sandbox.ReapInterval)
	}
	if cfg.GRPCHealthPort != "" {
		if err := api.NewGRPCHealth(healthHandler).Start(ctx, net.JoinHostPort("", cfg.GRPCHealthPort)); err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			os.Exit(1)
		}
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	worker.Wait()

	slog.Info("Server stopped successfully")
}

// newSandboxProvider builds the configured sandbox backend. The returned
// pinger is nil for backends without a remote daemon.
func newSandboxProvider(ctx context.Context, cfg *config.Config) (sandbox.Provider, api.Pinger, func(), error) {
	if cfg.Sandbox.Driver == "local" {
		slog.Warn("Using local sandboxes, commands run unisolated on this host", "root", cfg.Sandbox.LocalRoot)
		p := sandbox.NewLocalProvider(afero.NewOsFs(), cfg.Sandbox.LocalRoot, cfg.Sandbox.PublicHost, sandbox.ShellRunner{})
		return p, nil, func() {}, nil
	}

	p, err := sandbox.NewDockerProvider(sandbox.DockerOptions{
		Runtime:    cfg.Sandbox.Runtime,
		PublicHost: cfg.Sandbox.PublicHost,
		APIKey:     cfg.Sandbox.APIKey,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		if closeErr := p.Close(); closeErr != nil {
			slog.Error("Failed to close docker client", "error", closeErr)
		}
	}

	networkID, err := p.EnsureNetwork(ctx)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	slog.Info("Sandbox network ready", "network_id", networkID)
	return p, p, cleanup, nil
}
