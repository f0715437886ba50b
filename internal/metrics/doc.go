// Package metrics exposes bot-manager counters and gauges to Prometheus.
//
// All series use the bot_manager namespace. The HTTP server mounts Handler
// at the configured metrics path when metrics.enabled is true.
package metrics
