// ABOUTME: Gateway orchestrator that coordinates the bot websocket and HTTP servers
// ABOUTME: Wires registry, heartbeat and control channel, and owns the shutdown sequence

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/bot-manager/internal/auth"
	"github.com/2389/bot-manager/internal/bot"
	"github.com/2389/bot-manager/internal/bus"
	"github.com/2389/bot-manager/internal/config"
	"github.com/2389/bot-manager/internal/control"
	"github.com/2389/bot-manager/internal/directory"
	"github.com/2389/bot-manager/internal/metrics"
)

// Deps are the external collaborators the gateway runs against.
type Deps struct {
	Bus       bus.Bus
	Directory directory.Directory
	Locator   bot.Locator
	Metrics   *metrics.Metrics
}

// Gateway orchestrates the bot-manager server components.
type Gateway struct {
	config    *config.Config
	registry  *bot.Registry
	auth      *bot.Authenticator
	handler   *bot.Handler
	heartbeat *bot.Heartbeat
	control   *control.Listener
	bus       bus.Bus
	directory directory.Directory
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader

	botServer   *http.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// conns tracks live bot connection goroutines
	conns sync.WaitGroup

	// transports holds every accepted socket, logged in or not
	connMu     sync.Mutex
	transports map[*wsTransport]struct{}
	draining   bool

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if deps.Bus == nil || deps.Directory == nil || deps.Locator == nil {
		return nil, errors.New("gateway requires a bus, a directory and a locator")
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := bot.NewRegistry(logger, deps.Metrics)
	handler := bot.NewHandler(bot.HandlerConfig{
		Bus: deps.Bus,
		Keys: bus.Keys{
			LogPrefix:    cfg.Bus.LogPrefix,
			StatusPrefix: cfg.Bus.StatusPrefix,
		},
		LogHistory: cfg.Bus.LogHistory,
		Directory:  deps.Directory,
		Codec:      directory.Base64Codec{},
		Logger:     logger,
		Metrics:    deps.Metrics,
	})

	gw := &Gateway{
		config:    cfg,
		registry:  registry,
		auth:      bot.NewAuthenticator(deps.Directory, deps.Locator, logger, deps.Metrics),
		handler:   handler,
		heartbeat: bot.NewHeartbeat(registry, cfg.Bots.HeartbeatInterval, logger, deps.Metrics),
		bus:       deps.Bus,
		directory: deps.Directory,
		metrics:   deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Bots are not browsers; there is no origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:     logger.With("component", "gateway"),
		transports: make(map[*wsTransport]struct{}),
	}
	gw.ctx, gw.cancel = context.WithCancel(context.Background())

	gw.control = control.New(control.Config{
		Bus:            deps.Bus,
		BroadcastTopic: cfg.Bus.BroadcastTopic,
		AdminTopic:     cfg.Bus.AdminTopic,
		Registry:       registry,
		Artifacts:      handler,
		Shutdown:       gw.Stop,
		Logger:         logger,
		Metrics:        deps.Metrics,
	})

	httpHandler, err := gw.newHTTPHandler()
	if err != nil {
		return nil, err
	}

	gw.botServer = &http.Server{
		Addr:              cfg.Server.BotAddr,
		Handler:           gw.BotHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Registry exposes the session registry.
func (g *Gateway) Registry() *bot.Registry {
	return g.registry
}

// BotHandler serves bot websocket connections at "/".
func (g *Gateway) BotHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleBotSocket)
	return mux
}

// newHTTPHandler builds the health, API and metrics routes.
func (g *Gateway) newHTTPHandler() (http.Handler, error) {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// API endpoints - auth required if JWT secret is configured
	var verifier auth.TokenVerifier
	if g.config.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		verifier = v
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	authMiddleware := auth.HTTPAuthMiddleware(verifier, g.logger)
	mux.Handle("GET /api/workers", authMiddleware(http.HandlerFunc(g.handleListWorkers)))
	mux.Handle("GET /api/workers/{id}", authMiddleware(http.HandlerFunc(g.handleGetWorker)))

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
		g.logger.Info("metrics enabled", "path", g.config.Metrics.Path)
	}

	return mux, nil
}

// HTTPHandler returns the health, API and metrics handler.
func (g *Gateway) HTTPHandler() http.Handler {
	return g.httpServer.Handler
}

// context returns the context bot connections are served under.
func (g *Gateway) context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}

// Stop cancels the context bot connections are served under and makes Run
// return. A stop requested before Run makes Run return immediately.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel()
}

// track registers an accepted transport. It refuses new transports once
// shutdown has started.
func (g *Gateway) track(t *wsTransport) bool {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if g.draining {
		return false
	}
	g.transports[t] = struct{}{}
	return true
}

func (g *Gateway) untrack(t *wsTransport) {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	delete(g.transports, t)
}

// closeTransports closes every accepted transport, including sockets that
// never logged in, and returns how many were still open.
func (g *Gateway) closeTransports() int {
	g.connMu.Lock()
	g.draining = true
	open := make([]*wsTransport, 0, len(g.transports))
	for t := range g.transports {
		open = append(open, t)
	}
	g.connMu.Unlock()

	for _, t := range open {
		_ = t.Close()
	}
	return len(open)
}

// setupTCPListeners creates standard TCP listeners for bots and HTTP.
func (g *Gateway) setupTCPListeners() (botLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"bot_addr", g.config.Server.BotAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	botLn, err = net.Listen("tcp", g.config.Server.BotAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on bot address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = botLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return botLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (botLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts both HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(botLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("bot server listening", "addr", botLn.Addr().String())
		if err := g.botServer.Serve(botLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("bot server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers, the heartbeat and the control channel, and blocks
// until ctx is canceled, Stop is called, or a server fails. It then runs the
// shutdown sequence.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	base := g.ctx
	g.ctx = ctx
	g.mu.Unlock()
	defer context.AfterFunc(base, cancel)()

	botLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	if err := g.control.Start(ctx); err != nil {
		_ = botLn.Close()
		_ = httpLn.Close()
		return fmt.Errorf("starting control channel: %w", err)
	}

	go g.heartbeat.Run(ctx)

	errCh := g.startServers(botLn, httpLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "bot-manager", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// tailnetPort keeps only the port of a configured address.
func tailnetPort(addr, fallback string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" || port == "0" {
		return ":" + fallback
	}
	return ":" + port
}

// setupTailscaleListeners creates a tsnet server and listens for bots and
// HTTP on the tailnet, reusing the configured ports.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (botLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	botLn, err = g.tsnetServer.Listen("tcp", tailnetPort(g.config.Server.BotAddr, "8000"))
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale bot port: %w", err)
	}

	httpLn, err = g.tsnetServer.Listen("tcp", tailnetPort(g.config.Server.HTTPAddr, "80"))
	if err != nil {
		_ = botLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return botLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting connections, closes every bot transport with the
// close handshake, then closes the bus and the directory. It is safe to call
// more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.Stop()

	var errs []error
	errs = appendCloseError(errs, "bot server shutdown", g.botServer.Shutdown(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	closed := g.registry.CloseAll(ctx)
	open := g.closeTransports()
	g.logger.Info("bot sessions closed", "transports", closed, "open_sockets", open)
	g.waitForConnections(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "bus close", g.bus.Close(ctx))
	errs = appendCloseError(errs, "directory close", g.directory.Close())

	return errors.Join(errs...)
}

// waitForConnections waits for connection goroutines to finish or ctx to expire.
func (g *Gateway) waitForConnections(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("shutdown deadline reached with bot connections still open")
	}
}
