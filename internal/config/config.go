// Package config loads process configuration.
//
// Values are layered, later layers winning:
//  1. built-in defaults
//  2. the YAML file, when a path is given
//  3. a .env file in the working directory, when present
//  4. GATEHOUSE_* environment variables
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "GATEHOUSE_"

// Token formats accepted by token_format.
const (
	TokenOpaque = "opaque"
	TokenJWT    = "jwt"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr       string        `yaml:"http_addr"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	PGDSN          string        `yaml:"pg_dsn"`
	SessionTTL     Duration      `yaml:"session_ttl"`
	TokenFormat    string        `yaml:"token_format"`
	TokenSecret    string        `yaml:"token_secret"`
	PasswordSalt   string        `yaml:"password_salt"`
	AdminRole      string        `yaml:"admin_role"`
	RequireCaptcha bool          `yaml:"require_captcha"`
	Captcha        CaptchaConfig `yaml:"captcha"`
	Rate           RateConfig    `yaml:"rate"`
	SweepInterval  Duration      `yaml:"sweep_interval"`
	MigrationsDir  string        `yaml:"migrations_dir"`
	SeedsDir       string        `yaml:"seeds_dir"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies []string      `yaml:"trusted_proxies"`
}

// CaptchaConfig tunes the slide puzzle.
type CaptchaConfig struct {
	ChallengeTTL Duration `yaml:"challenge_ttl"`
	TicketTTL    Duration `yaml:"ticket_ttl"`
	Tolerance    int      `yaml:"tolerance"`
}

// RateConfig is the per-client token bucket on public endpoints.
type RateConfig struct {
	Burst     int     `yaml:"burst"`
	PerSecond float64 `yaml:"per_second"`
}

// Duration accepts Go duration strings ("90s", "7h") or integer seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty duration")
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		SessionTTL:  Duration(7 * 24 * time.Hour),
		TokenFormat: TokenOpaque,
		AdminRole:   "ADMIN",
		Captcha: CaptchaConfig{
			ChallengeTTL: Duration(300 * time.Second),
			TicketTTL:    Duration(300 * time.Second),
			Tolerance:    5,
		},
		Rate: RateConfig{
			Burst:     10,
			PerSecond: 5,
		},
		SweepInterval: Duration(time.Minute),
		MigrationsDir: "ops/migrations/sql",
		SeedsDir:      "ops/migrations/seeds",
	}
}

// Load reads path (optional), ./.env (optional) and the process environment.
func Load(path string) (*Config, error) {
	return load(path, ".env", os.LookupEnv)
}

func load(path, dotenvPath string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	dotenv := map[string]string{}
	if dotenvPath != "" {
		if vals, err := godotenv.Read(dotenvPath); err == nil {
			dotenv = vals
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", dotenvPath, err)
		}
	}
	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}

	if err := applyEnvOverrides(cfg, get); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, get func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":      &cfg.HTTPAddr,
		"GRPC_ADDR":      &cfg.GRPCAddr,
		"PG_DSN":         &cfg.PGDSN,
		"TOKEN_FORMAT":   &cfg.TokenFormat,
		"TOKEN_SECRET":   &cfg.TokenSecret,
		"PASSWORD_SALT":  &cfg.PasswordSalt,
		"ADMIN_ROLE":     &cfg.AdminRole,
		"MIGRATIONS_DIR": &cfg.MigrationsDir,
		"SEEDS_DIR":      &cfg.SeedsDir,
	}
	for key, dst := range strs {
		if v, ok := get(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*Duration{
		"SESSION_TTL":           &cfg.SessionTTL,
		"SWEEP_INTERVAL":        &cfg.SweepInterval,
		"CAPTCHA_CHALLENGE_TTL": &cfg.Captcha.ChallengeTTL,
		"CAPTCHA_TICKET_TTL":    &cfg.Captcha.TicketTTL,
	}
	for key, dst := range durations {
		if v, ok := get(envPrefix + key); ok {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = Duration(d)
		}
	}

	ints := map[string]*int{
		"CAPTCHA_TOLERANCE": &cfg.Captcha.Tolerance,
		"RATE_BURST":        &cfg.Rate.Burst,
	}
	for key, dst := range ints {
		if v, ok := get(envPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	if v, ok := get(envPrefix + "RATE_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sRATE_PER_SECOND: %w", envPrefix, err)
		}
		cfg.Rate.PerSecond = f
	}
	if v, ok := get(envPrefix + "TRUSTED_PROXIES"); ok {
		cfg.TrustedProxies = nil
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, e)
			}
		}
	}
	if v, ok := get(envPrefix + "REQUIRE_CAPTCHA"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sREQUIRE_CAPTCHA: %w", envPrefix, err)
		}
		cfg.RequireCaptcha = b
	}
	return nil
}

// Validate checks the configuration for values the services would reject.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	switch strings.ToLower(c.TokenFormat) {
	case TokenOpaque:
	case TokenJWT:
		if len(c.TokenSecret) < 16 {
			errs = append(errs, errors.New("token_secret must be at least 16 characters for jwt tokens"))
		}
	default:
		errs = append(errs, fmt.Errorf("token_format %q is not one of opaque, jwt", c.TokenFormat))
	}
	if strings.TrimSpace(c.AdminRole) == "" {
		errs = append(errs, errors.New("admin_role is required"))
	}
	if c.Captcha.ChallengeTTL <= 0 || c.Captcha.TicketTTL <= 0 {
		errs = append(errs, errors.New("captcha ttls must be positive"))
	}
	if c.Captcha.Tolerance < 0 {
		errs = append(errs, errors.New("captcha.tolerance must not be negative"))
	}
	if c.Rate.Burst <= 0 || c.Rate.PerSecond <= 0 {
		errs = append(errs, errors.New("rate.burst and rate.per_second must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	for _, e := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(e); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(e); err != nil {
			errs = append(errs, fmt.Errorf("trusted_proxies: %q is not an address or CIDR", e))
		}
	}
	return errors.Join(errs...)
}
