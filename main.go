package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/care-team/care-bridge/internal/audit"
	"github.com/care-team/care-bridge/internal/cache"
	"github.com/care-team/care-bridge/internal/config"
	"github.com/care-team/care-bridge/internal/credential"
	"github.com/care-team/care-bridge/internal/gemini"
	"github.com/care-team/care-bridge/internal/line"
	"github.com/care-team/care-bridge/internal/observe"
	"github.com/care-team/care-bridge/internal/reply"
	"github.com/care-team/care-bridge/internal/server"
	"github.com/care-team/care-bridge/internal/webhook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

const dedupCacheSize = 10_000

func configureServerRoutes(ctx context.Context, cfg config.Config, hooks *server.ShutdownHooks) (http.Handler, error) {
	mux := observe.NewMux(http.NewServeMux())

	// configure middleware
	auditor := audit.Middleware()

	// Callbacks can batch events, so allow them more room than the question
	// API. Neither limit is configurable.
	callbackLimiter := maxRequestSize(1 << 20) // 1 MB
	requestLimiter := maxRequestSize(20 << 10) // 20 KB

	webhookRouteMiddleware := alice.New(callbackLimiter, auditor)
	standardRouteMiddleware := alice.New(requestLimiter)

	if !cfg.Line.UsesStaticToken() && !cfg.Line.CanIssueTokens() {
		log.Warn().Msg("neither LINE_CHANNEL_ACCESS_TOKEN nor LINE_CHANNEL_ID is set: replies cannot be delivered")
	}
	if cfg.Gemini.APIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is not set: every question will be answered with an apology")
	}

	lineClient := line.New(cfg.Line, line.WithHTTPClient(http.DefaultClient))

	// the stored credential carries its own expiry; the cache TTL only bounds
	// how long an unused entry is retained
	credentialMemory, err := cache.NewMemory[credential.Credential](line.DefaultTokenTTL, 1)
	if err != nil {
		return nil, fmt.Errorf("credential cache configuration failed: %w", err)
	}
	credentialStore := cache.NewInstrumented[credential.Credential](credentialMemory, "credential")

	credentials := credential.New(
		lineClient.FetchChannelToken,
		credentialStore,
		credential.WithStaticToken(cfg.Line.ChannelAccessToken),
	)

	persona := gemini.DefaultPersona()
	if cfg.Gemini.PersonaFile != "" {
		persona, err = gemini.LoadPersona(cfg.Gemini.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("persona configuration failed: %w", err)
		}
	}

	completer := gemini.New(cfg.Gemini,
		gemini.WithHTTPClient(http.DefaultClient),
		gemini.WithPersona(persona),
	)

	orchestrator := reply.New(completer, credentials, lineClient,
		reply.WithPersona(persona),
		reply.WithRefreshOnUnauthorized(cfg.Line.RefreshOnUnauthorized),
	)

	dispatcherOptions := []webhook.Option{webhook.WithEventTimeout(cfg.Webhook.EventTimeout())}

	var seen cache.TokenCache[time.Time]
	if ttl := cfg.Webhook.DedupTTL(); ttl > 0 {
		seenMemory, err := cache.NewMemory[time.Time](ttl, dedupCacheSize)
		if err != nil {
			return nil, fmt.Errorf("webhook dedup cache configuration failed: %w", err)
		}
		seen = cache.NewInstrumented[time.Time](seenMemory, "webhook-events")
		dispatcherOptions = append(dispatcherOptions, webhook.WithDedup(seen))
	}

	dispatcher := webhook.New(orchestrator, dispatcherOptions...)

	// in-flight events finish before the caches they use are closed
	hooks.AddContext("webhook-events", dispatcher.Wait)
	hooks.Add("credential-cache", credentialStore.Close)
	if seen != nil {
		hooks.Add("webhook-dedup-cache", seen.Close)
	}

	mux.Handle("POST /api/v1/callback", webhookRouteMiddleware.Then(handlePostCallback(cfg.Line.ChannelSecret, dispatcher.Dispatch)))
	mux.Handle("POST /api/v1/ai_response", standardRouteMiddleware.Then(handlePostAIResponse(completer.Complete)))
	mux.Handle("GET /api/v1/line/token", standardRouteMiddleware.Then(handleGetTokenStatus(credentials.Status, cfg.Line)))

	// liveness routes are not included in telemetry or auditing
	mux.HandleUntraced("GET /{$}", standardRouteMiddleware.Then(handleRoot()))
	mux.HandleUntraced("GET /health", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	hooks := &server.ShutdownHooks{}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg, hooks)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// telemetry is flushed last so the other hooks are still recorded
	hooks.AddContext("telemetry", shutdownTelemetry)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	err = server.Serve(ctx, srv, cfg.Server.ShutdownTimeout(), hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
