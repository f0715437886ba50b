// ABOUTME: Entry point for the bot-manager control plane
// ABOUTME: Serves bot websocket sessions and routes control messages from the bus

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/bot-manager/internal/auth"
	"github.com/2389/bot-manager/internal/config"
	"github.com/2389/bot-manager/internal/gateway"
	"github.com/2389/bot-manager/internal/metrics"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _           _                                                   
| |__   ___ | |_      _ __ ___   __ _ _ __   __ _  __ _  ___ _ __ 
| '_ \ / _ \| __|____| '_ ' _ \ / _' | '_ \ / _' |/ _' |/ _ \ '__|
| |_) | (_) | ||_____| | | | | | (_| | | | | (_| | (_| |  __/ |   
|_.__/ \___/ \__|    |_| |_| |_|\__,_|_| |_|\__,_|\__, |\___|_|   
                                                  |___/           
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: bot-manager <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the manager")
		fmt.Println("  health                 Check manager readiness")
		fmt.Println("  workers                List bot sessions")
		fmt.Println("  token [--ttl 720h]     Mint an API token")
		fmt.Println("  secret                 Print a random jwt_secret")
		fmt.Println("  seed FILE              Load users, workers and code into the directory")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "workers":
		err = runWorkers(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "secret":
		err = runSecret()
	case "seed":
		err = runSeed(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Bots:      %s\n", cfg.Server.BotAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Bus:       %s ", cfg.Bus.Driver)
	gray.Printf("(%s, %s)\n", cfg.Bus.BroadcastTopic, cfg.Bus.AdminTopic)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting bot-manager",
		"config", configPath,
		"bot_addr", cfg.Server.BotAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	dir, err := gateway.OpenDirectory(cfg, logger)
	if err != nil {
		return err
	}

	locator, err := gateway.OpenLocator(cfg)
	if err != nil {
		_ = dir.Close()
		return err
	}

	b, err := gateway.OpenBus(ctx, cfg, logger)
	if err != nil {
		_ = dir.Close()
		return err
	}

	gw, err := gateway.New(cfg, gateway.Deps{
		Bus:       b,
		Directory: dir,
		Locator:   locator,
		Metrics:   metrics.New(),
	}, logger)
	if err != nil {
		_ = b.Close(context.Background())
		_ = dir.Close()
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(addr, path string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

// get performs an authenticated GET against the local HTTP server.
func get(ctx context.Context, cfg *config.Config, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, localURL(cfg.Server.HTTPAddr, path), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if cfg.Auth.JWTSecret != "" {
		token, err := mintToken(cfg.Auth.JWTSecret, time.Minute)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	status, body, err := get(ctx, cfg, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}

func runWorkers(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	status, body, err := get(ctx, cfg, "/api/workers")
	if err != nil {
		return fmt.Errorf("listing workers failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing workers: status %d", status)
	}

	fmt.Println(string(body))
	return nil
}

func mintToken(secret string, ttl time.Duration) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate("bot-manager-cli", ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

// runToken mints an operator token and saves it next to the config file.
// Supports both "--ttl value" and "--ttl=value" formats.
func runToken(args []string) error {
	ttl := 30 * 24 * time.Hour
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var raw string
		switch {
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			raw = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			raw = strings.TrimPrefix(arg, "--ttl=")
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
		ttl = d
	}

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s", configPath)
	}

	token, err := mintToken(cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return err
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Saved token: %s (expires %s)\n", tokenPath, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	return nil
}

func runSecret() error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	fmt.Println(base64.StdEncoding.EncodeToString(secretBytes))
	return nil
}
