// Package config handles configuration loading from YAML files and
// environment variables, and maps it onto the component configurations.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/captcha"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/geofence"
	"github.com/locplace/mapscan/internal/planner"
	"github.com/locplace/mapscan/internal/scanner"
	"github.com/locplace/mapscan/internal/scheduler"
	"github.com/locplace/mapscan/internal/webhook"
)

// Config holds all configuration for the scanner process. Durations given
// as plain numbers are seconds unless the key says otherwise.
type Config struct {
	Identities []account.Credentials `mapstructure:"identities"`
	Center     string                `mapstructure:"center"`
	StepLimit  int                   `mapstructure:"step_limit"`
	Mode       string                `mapstructure:"mode"`
	NoSpawns   bool                  `mapstructure:"no_spawns"`

	SpawnpointsFile      string  `mapstructure:"spawnpoints_file"`
	SpawnLifetime        float64 `mapstructure:"spawn_lifetime"`
	GeofenceFile         string  `mapstructure:"geofence_file"`
	GeofenceExcludedFile string  `mapstructure:"geofence_excluded_file"`

	Workers        int     `mapstructure:"workers"`
	ScanDelay      float64 `mapstructure:"scan_delay"`
	ScanRetries    int     `mapstructure:"scan_retries"`
	LoginRetries   int     `mapstructure:"login_retries"`
	LoginDelay     float64 `mapstructure:"login_delay"`
	APIRetries     int     `mapstructure:"api_retries"`
	MaxFailures    int     `mapstructure:"max_failures"`
	MinSecondsLeft float64 `mapstructure:"min_seconds_left"`
	Jitter         bool    `mapstructure:"jitter"`
	ArenaInfo      bool    `mapstructure:"arena_info"`
	StatusName     string  `mapstructure:"status_name"`

	ProxyList           []string `mapstructure:"proxy_list"`
	ProxyRotation       string   `mapstructure:"proxy_rotation"`
	KPHLimit            float64  `mapstructure:"kph_limit"`
	AccountRestInterval float64  `mapstructure:"account_rest_interval"`

	CaptchaMode          string  `mapstructure:"captcha_mode"`
	ManualCaptchaTimeout float64 `mapstructure:"manual_captcha_timeout"`

	WebhookSinks      []string `mapstructure:"webhook_sinks"`
	WHFrameIntervalMs int      `mapstructure:"wh_frame_interval_ms"`
	WHLFUSize         int      `mapstructure:"wh_lfu_size"`
	WHTimeout         float64  `mapstructure:"wh_timeout"`

	PurgeAfterHours float64 `mapstructure:"purge_after_hours"`

	Encounter EncounterConfig `mapstructure:"encounter"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// EncounterConfig controls encounter calls.
type EncounterConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Whitelist []int   `mapstructure:"whitelist"`
	Blacklist []int   `mapstructure:"blacklist"`
	Delay     float64 `mapstructure:"delay"`
}

// WebhookConfig holds webhook filtering and AMQP settings.
type WebhookConfig struct {
	Whitelist             []int    `mapstructure:"whitelist"`
	Blacklist             []int    `mapstructure:"blacklist"`
	Types                 []string `mapstructure:"types"`
	AMQPURL               string   `mapstructure:"amqp_url"`
	AMQPExchange          string   `mapstructure:"amqp_exchange"`
	QueueWarningThreshold int      `mapstructure:"queue_warning_threshold"`
}

// CaptchaConfig holds the automated solver settings.
type CaptchaConfig struct {
	Key        string `mapstructure:"key"`
	DSK        string `mapstructure:"dsk"`
	StatusName string `mapstructure:"status_name"`
	APIBase    string `mapstructure:"api_base"`
}

// RPCConfig points at the game gateway.
type RPCConfig struct {
	GatewayURL string  `mapstructure:"gateway_url"`
	Token      string  `mapstructure:"token"`
	Timeout    float64 `mapstructure:"timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
	// MaxConns overrides the pool size; otherwise it is
	// MaxConnections per identity.
	MaxConns       int `mapstructure:"max_conns"`
	MaxConnections int `mapstructure:"max_connections"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AdminKey   string `mapstructure:"admin_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from files and environment variables. path may
// name a config file explicitly; otherwise config.yaml is searched for.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configuration file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mapscan/")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Read config file (optional unless named)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults and env vars
	}

	// Environment variable settings
	v.SetEnvPrefix("SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Scan defaults
	v.SetDefault("center", "")
	v.SetDefault("step_limit", 12)
	v.SetDefault("mode", string(planner.ModeHex))
	v.SetDefault("no_spawns", false)
	v.SetDefault("spawnpoints_file", "")
	v.SetDefault("spawn_lifetime", 900)
	v.SetDefault("geofence_file", "")
	v.SetDefault("geofence_excluded_file", "")

	// Worker defaults
	v.SetDefault("workers", 0)
	v.SetDefault("scan_delay", 10)
	v.SetDefault("scan_retries", 5)
	v.SetDefault("login_retries", 3)
	v.SetDefault("login_delay", 5)
	v.SetDefault("api_retries", 5)
	v.SetDefault("max_failures", 5)
	v.SetDefault("min_seconds_left", 0)
	v.SetDefault("jitter", false)
	v.SetDefault("arena_info", false)
	v.SetDefault("status_name", "Worker")

	// Identity defaults
	v.SetDefault("proxy_list", []string{})
	v.SetDefault("proxy_rotation", string(account.RotationRound))
	v.SetDefault("kph_limit", 35)
	v.SetDefault("account_rest_interval", 7200)

	// Captcha defaults
	v.SetDefault("captcha_mode", string(captcha.ModeDisabled))
	v.SetDefault("manual_captcha_timeout", 0)
	v.SetDefault("captcha.key", "")
	v.SetDefault("captcha.dsk", "6LeeTScTAAAAADqvhqVMhPpr_vB9D364Ia-1dSgK")
	v.SetDefault("captcha.status_name", "")
	v.SetDefault("captcha.api_base", "http://2captcha.com")

	// Webhook defaults
	v.SetDefault("webhook_sinks", []string{})
	v.SetDefault("wh_frame_interval_ms", 500)
	v.SetDefault("wh_lfu_size", 2500)
	v.SetDefault("wh_timeout", 1)
	v.SetDefault("webhook.whitelist", []int{})
	v.SetDefault("webhook.blacklist", []int{})
	v.SetDefault("webhook.types", []string{})
	v.SetDefault("webhook.amqp_url", "")
	v.SetDefault("webhook.amqp_exchange", "mapscan.events")
	v.SetDefault("webhook.queue_warning_threshold", 100)

	// Encounter defaults
	v.SetDefault("encounter.enabled", false)
	v.SetDefault("encounter.whitelist", []int{})
	v.SetDefault("encounter.blacklist", []int{})
	v.SetDefault("encounter.delay", 1)

	// Persistence defaults
	v.SetDefault("purge_after_hours", 0)
	v.SetDefault("database.url", "postgres://localhost:5432/mapscan?sslmode=disable")
	v.SetDefault("database.max_conns", 0)
	v.SetDefault("database.max_connections", 2)

	// Gateway defaults
	v.SetDefault("rpc.gateway_url", "http://localhost:8081")
	v.SetDefault("rpc.token", "")
	v.SetDefault("rpc.timeout", 30)

	// Server defaults
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.admin_key", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks required settings and enumerated values.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Identities) == 0 {
		errs = append(errs, errors.New("at least one identity is required"))
	}
	if _, err := account.LoadIdentities(c.Identities); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseCenter(c.Center); err != nil {
		errs = append(errs, err)
	}
	if _, err := planner.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	mode, err := captcha.ParseMode(c.CaptchaMode)
	if err != nil {
		errs = append(errs, err)
	}
	if (mode == captcha.ModeAuto || mode == captcha.ModeHybrid) && c.Captcha.Key == "" {
		errs = append(errs, fmt.Errorf("captcha mode %s requires captcha.key", mode))
	}
	if mode == captcha.ModeHybrid && c.ManualCaptchaTimeout <= 0 {
		errs = append(errs, errors.New("captcha mode hybrid requires manual_captcha_timeout"))
	}
	if _, err := account.ParseRotation(c.ProxyRotation); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.WebhookTypes(); err != nil {
		errs = append(errs, err)
	}
	if c.StepLimit < 1 {
		errs = append(errs, fmt.Errorf("step_limit must be at least 1, got %d", c.StepLimit))
	}
	if c.RPC.GatewayURL == "" {
		errs = append(errs, errors.New("rpc.gateway_url is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseCenter parses a "lat,lng" or "lat,lng,alt" location.
func ParseCenter(s string) (geo.Coordinate, error) {
	parts := strings.Split(s, ",")
	if strings.TrimSpace(s) == "" || len(parts) < 2 || len(parts) > 3 {
		return geo.Coordinate{}, fmt.Errorf("center must be \"lat,lng\", got %q", s)
	}
	var vals [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Coordinate{}, fmt.Errorf("invalid center %q: %w", s, err)
		}
		vals[i] = f
	}
	c := geo.Coordinate{Lat: vals[0], Lng: vals[1], Alt: vals[2]}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return geo.Coordinate{}, fmt.Errorf("center %q out of range", s)
	}
	return c, nil
}

// WebhookTypes returns the configured webhook kinds; empty means all.
func (c *Config) WebhookTypes() ([]webhook.Kind, error) {
	var kinds []webhook.Kind
	for _, t := range c.Webhook.Types {
		k, err := webhook.ParseKind(t)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// WebhookTargets returns the HTTP sinks plus the AMQP broker, if any.
func (c *Config) WebhookTargets() []string {
	targets := append([]string(nil), c.WebhookSinks...)
	if c.Webhook.AMQPURL != "" {
		targets = append(targets, c.Webhook.AMQPURL)
	}
	return targets
}

// DBMaxConns returns the database pool size.
func (c *Config) DBMaxConns() int {
	if c.Database.MaxConns > 0 {
		return c.Database.MaxConns
	}
	perIdentity := max(c.Database.MaxConnections, 1)
	return max(perIdentity*len(c.Identities), 4)
}

// PoolConfig maps identity pool settings.
func (c *Config) PoolConfig() account.PoolConfig {
	pc := account.DefaultPoolConfig()
	pc.KPHLimit = c.KPHLimit
	if c.AccountRestInterval > 0 {
		pc.RestInterval = seconds(c.AccountRestInterval)
	}
	return pc
}

// PlannerConfig maps planner settings. fences may be nil.
func (c *Config) PlannerConfig(fences *geofence.Fences) planner.Config {
	pc := planner.DefaultConfig()
	pc.Mode = planner.Mode(c.Mode)
	pc.NoSpawns = c.NoSpawns
	pc.SpawnpointsFile = c.SpawnpointsFile
	if c.SpawnLifetime > 0 {
		pc.SpawnLifetime = seconds(c.SpawnLifetime)
	}
	pc.Fences = fences
	return pc
}

// SchedulerConfig maps scheduler settings.
func (c *Config) SchedulerConfig() scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.StepLimit = c.StepLimit
	return sc
}

// ScannerConfig maps worker settings.
func (c *Config) ScannerConfig() scanner.Config {
	sc := scanner.DefaultConfig()
	sc.Workers = c.Workers
	sc.ScanDelay = seconds(c.ScanDelay)
	sc.ScanRetries = c.ScanRetries
	sc.LoginRetries = c.LoginRetries
	sc.LoginDelay = seconds(c.LoginDelay)
	sc.APIRetries = c.APIRetries
	sc.MaxFailures = c.MaxFailures
	sc.MinSecondsLeft = seconds(c.MinSecondsLeft)
	sc.Jitter = c.Jitter
	sc.ArenaInfo = c.ArenaInfo
	sc.Encounter = scanner.EncounterConfig{
		Enabled: c.Encounter.Enabled,
		Filter:  scanner.PokemonFilter{Whitelist: c.Encounter.Whitelist, Blacklist: c.Encounter.Blacklist},
		Delay:   seconds(c.Encounter.Delay),
	}
	sc.Webhooks = scanner.PokemonFilter{Whitelist: c.Webhook.Whitelist, Blacklist: c.Webhook.Blacklist}
	if c.StatusName != "" {
		sc.StatusName = c.StatusName
	}
	return sc
}

// FanoutConfig maps webhook fan-out settings.
func (c *Config) FanoutConfig() webhook.Config {
	fc := webhook.DefaultConfig()
	if c.WHFrameIntervalMs > 0 {
		fc.FrameInterval = time.Duration(c.WHFrameIntervalMs) * time.Millisecond
	}
	if c.WHLFUSize > 0 {
		fc.LFUSize = c.WHLFUSize
	}
	if c.WHTimeout > 0 {
		fc.Timeout = seconds(c.WHTimeout)
	}
	if c.Webhook.QueueWarningThreshold > 0 {
		fc.QueueThreshold = c.Webhook.QueueWarningThreshold
	}
	fc.Types, _ = c.WebhookTypes() //nolint:errcheck // checked by Validate
	return fc
}

// CaptchaConfig maps captcha settings.
func (c *Config) CaptchaConfig() captcha.Config {
	cc := captcha.DefaultConfig()
	cc.Mode, _ = captcha.ParseMode(c.CaptchaMode) //nolint:errcheck // checked by Validate
	cc.ManualTimeout = seconds(c.ManualCaptchaTimeout)
	cc.StatusName = c.Captcha.StatusName
	if cc.StatusName == "" {
		cc.StatusName = c.StatusName
	}
	return cc
}

// PurgeAfter returns the spawn purge horizon; zero disables purging.
func (c *Config) PurgeAfter() time.Duration {
	return time.Duration(c.PurgeAfterHours * float64(time.Hour))
}

// ParseLevel parses a log level name; empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// NewLogger builds the process logger. Format "console" selects the
// development encoder; anything else logs JSON.
func NewLogger(c LoggingConfig) (*zap.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
