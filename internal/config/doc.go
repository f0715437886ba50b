// Package config handles configuration loading for bot-manager.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Defaults are applied to every unset field before validation.
//
// # Configuration File
//
// Location (see DefaultPath):
//
//  1. Path from BOT_MANAGER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/bot-manager/config.yaml
//  3. ~/.config/bot-manager/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	orchestration:
//	  token: "${KUBE_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	bots:
//	  heartbeat_interval: "5s"
//	bus:
//	  backoff:
//	    step: "100ms"
//	    max_delay: "3s"
//	    max_total_duration: "1h"
//
// # Configuration Sections
//
//	server:
//	  bot_addr: ":8000"          # websocket listener for bots
//	  http_addr: ":8080"         # health, API and metrics
//	  shutdown_timeout: "10s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "bot-manager"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: "/var/lib/bot-manager/tsnet"
//	  ephemeral: false
//
//	bus:
//	  driver: "nats"             # or "memory"
//	  url: "nats://127.0.0.1:4222"
//	  broadcast_topic: "bots"
//	  admin_topic: "xandium-manager"
//	  log_prefix: "xandium-bot-log"
//	  status_prefix: "bots"
//	  log_history: 101
//
//	directory:
//	  driver: "mysql"            # or "sqlite"
//	  dsn: "${DIRECTORY_DSN}"
//	  migrate: false
//
//	orchestration:
//	  base_url: "https://kubernetes.default.svc"
//	  token: "${KUBE_TOKEN}"
//	  ca_file: "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
//	  namespace: "bots"
//	  label_key: "bot"
//	  timeout: "10s"
//
//	auth:
//	  jwt_secret: "${BOT_MANAGER_JWT_SECRET}"   # enables /api auth
//
//	logging:
//	  level: "info"              # debug, info, warn, error
//	  format: "text"             # or "json"
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Validate requires a directory DSN and an orchestration base URL, a known
// bus and directory driver, distinct broadcast and admin topics, and a
// hostname when Tailscale is enabled.
package config
