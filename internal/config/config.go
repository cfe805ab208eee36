package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	GatewayURL          string
	AlertsURL           string
	STUNURLs            []string
	ListenAddr          string
	RenderDir           string
	NegotiationTimeout  time.Duration
	HTTPTimeout         time.Duration
	Reconnect           bool
	ReconnectMaxElapsed time.Duration
}

// Load reads configuration from envFile (or .env when empty, if present) and
// environment variables. Environment variables take precedence over file values.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		// godotenv.Load does not overwrite existing env vars
		_ = godotenv.Load()
	}

	var errs []error
	cfg := &Config{
		GatewayURL: getenv("YARDWATCH_GATEWAY_URL", "http://localhost:8000"),
		AlertsURL:  getenv("YARDWATCH_ALERTS_URL", "ws://localhost:8000/ws/alerts"),
		STUNURLs:   splitList(getenv("YARDWATCH_STUN_URLS", "stun:stun.l.google.com:19302")),
		ListenAddr: getenv("YARDWATCH_LISTEN_ADDR", "127.0.0.1:8080"),
		RenderDir:  os.Getenv("YARDWATCH_RENDER_DIR"),
	}

	var err error
	if cfg.NegotiationTimeout, err = duration("YARDWATCH_NEGOTIATION_TIMEOUT", 15*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.HTTPTimeout, err = duration("YARDWATCH_HTTP_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReconnectMaxElapsed, err = duration("YARDWATCH_RECONNECT_MAX_ELAPSED", 5*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.Reconnect, err = boolean("YARDWATCH_RECONNECT", true); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that may also have been set by command-line flags.
func (c *Config) Validate() error {
	var errs []error
	if err := checkURL("gateway URL", c.GatewayURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("alerts URL", c.AlertsURL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.NegotiationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("negotiation timeout must be positive, got %s", c.NegotiationTimeout))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP timeout must be positive, got %s", c.HTTPTimeout))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func boolean(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q: want %s URL with host", name, raw, strings.Join(schemes, " or "))
}
