// Package config loads engine configuration from flags, the environment and
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the process needs to run. Delay, Timeout and the
// product partitioning are inputs to the engine, never computed by it.
type Config struct {
	// Delay between trading rounds.
	Delay time.Duration
	// Timeout after which an unmatched order is evicted.
	Timeout time.Duration
	// Products known to this installation.
	Products []string
	// Engines is how many engine instances the products are split across.
	Engines int

	HTTPAddr    string
	MetricsAddr string
	NATSURL     string
	DataDir     string
	LogLevel    string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Delay:       3 * time.Second,
		Timeout:     30 * time.Second,
		Products:    []string{"1", "2", "3", "4", "5", "6", "7", "8"},
		Engines:     2,
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		DataDir:     "data",
		LogLevel:    "info",
	}
}

// Load reads .env (if present) and the environment over the defaults.
func Load() (Config, error) {
	// Missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("ENGINE_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ENGINE_DELAY_MS %q: %w", v, err)
		}
		cfg.Delay = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("ENGINE_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ENGINE_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("ENGINE_PRODUCTS"); v != "" {
		cfg.Products = splitList(v)
	}
	if v := os.Getenv("ENGINE_INSTANCES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid ENGINE_INSTANCES %q", v)
		}
		cfg.Engines = n
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Partition splits products across n engine instances in contiguous chunks.
// Every product lands in exactly one partition; the last partition takes the
// remainder.
func Partition(products []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if n > len(products) {
		n = len(products)
	}
	if n == 0 {
		return nil
	}

	chunk := len(products) / n
	parts := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		start := i * chunk
		end := start + chunk
		if i == n-1 {
			end = len(products)
		}
		parts = append(parts, products[start:end])
	}
	return parts
}
