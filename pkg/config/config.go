// Package config reads the process configuration once at startup. Values
// come from defaults, then an optional YAML file, then the environment
// (including a .env file). A Config never changes after Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvAPIURL        = "KUPPEL_API_URL"
	EnvFunctionsURL  = "KUPPEL_FUNCTIONS_URL"
	EnvMonitoringDSN = "KUPPEL_MONITORING_DSN"
	EnvFeatures      = "KUPPEL_FEATURES"
	EnvUseMockData   = "KUPPEL_USE_MOCK_DATA"
	EnvTimezone      = "KUPPEL_TIMEZONE"
	EnvLocale        = "KUPPEL_LOCALE"
	EnvSettingsPath  = "KUPPEL_SETTINGS_PATH"
	EnvCacheRedisURL = "KUPPEL_CACHE_REDIS_URL"
	EnvLogLevel      = "KUPPEL_LOG_LEVEL"
	EnvTimeout       = "KUPPEL_TIMEOUT"
	EnvConfigFile    = "KUPPEL_CONFIG_FILE"
)

const (
	DefaultTimezone = "America/Bogota"
	DefaultLocale   = "es"
	DefaultLogLevel = "info"
	DefaultTimeout  = 30 * time.Second
	DefaultSettings = "kuppel-settings.json"
)

// ErrMissingAPIURL is returned when neither mock mode nor an API URL is
// configured.
var ErrMissingAPIURL = errors.New("config: " + EnvAPIURL + " is required unless " + EnvUseMockData + " is set")

// file mirrors the YAML layout.
type file struct {
	APIURL        string   `yaml:"api_url"`
	FunctionsURL  string   `yaml:"functions_url"`
	MonitoringDSN string   `yaml:"monitoring_dsn"`
	Features      []string `yaml:"features"`
	UseMockData   *bool    `yaml:"use_mock_data"`
	Timezone      string   `yaml:"timezone"`
	Locale        string   `yaml:"locale"`
	SettingsPath  string   `yaml:"settings_path"`
	CacheRedisURL string   `yaml:"cache_redis_url"`
	LogLevel      string   `yaml:"log_level"`
	Timeout       string   `yaml:"timeout"`
}

type Config struct {
	apiURL        string
	functionsURL  string
	monitoringDSN string
	features      map[string]bool
	useMockData   bool
	location      *time.Location
	locale        string
	settingsPath  string
	cacheRedisURL string
	logLevel      string
	timeout       time.Duration
}

func (c Config) APIURL() string        { return c.apiURL }
func (c Config) FunctionsURL() string  { return c.functionsURL }
func (c Config) MonitoringDSN() string { return c.monitoringDSN }
func (c Config) UseMockData() bool     { return c.useMockData }
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}
func (c Config) Locale() string         { return c.locale }
func (c Config) SettingsPath() string   { return c.settingsPath }
func (c Config) CacheRedisURL() string  { return c.cacheRedisURL }
func (c Config) LogLevel() string       { return c.logLevel }
func (c Config) Timeout() time.Duration { return c.timeout }

// Feature reports whether a feature flag is on.
func (c Config) Feature(name string) bool {
	return c.features[strings.ToLower(name)]
}

// Features returns the enabled flags in no particular order.
func (c Config) Features() []string {
	out := make([]string, 0, len(c.features))
	for f := range c.features {
		out = append(out, f)
	}
	return out
}

type options struct {
	lookup   func(string) (string, bool)
	envFiles []string
	yamlPath string
}

type Option func(o *options)

// WithLookup replaces os.LookupEnv.
func WithLookup(f func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = f }
}

// WithEnv reads the environment from a map.
func WithEnv(env map[string]string) Option {
	return WithLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
}

// WithEnvFiles loads .env style files into the process environment
// before reading it. Missing files are skipped.
func WithEnvFiles(paths ...string) Option {
	return func(o *options) { o.envFiles = append(o.envFiles, paths...) }
}

// WithYAML overlays a YAML file. KUPPEL_CONFIG_FILE has the same effect.
func WithYAML(path string) Option {
	return func(o *options) { o.yamlPath = path }
}

func Load(opts ...Option) (Config, error) {
	o := options{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	for _, p := range o.envFiles {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", p, err)
		}
	}

	f := file{}
	yamlPath := o.yamlPath
	if v, ok := o.lookup(EnvConfigFile); ok && v != "" {
		yamlPath = v
	}
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", yamlPath, err)
		}
	}

	str := func(key, fromFile, def string) string {
		if v, ok := o.lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if fromFile != "" {
			return fromFile
		}
		return def
	}

	c := Config{
		apiURL:        strings.TrimRight(str(EnvAPIURL, f.APIURL, ""), "/"),
		functionsURL:  strings.TrimRight(str(EnvFunctionsURL, f.FunctionsURL, ""), "/"),
		monitoringDSN: str(EnvMonitoringDSN, f.MonitoringDSN, ""),
		locale:        str(EnvLocale, f.Locale, DefaultLocale),
		settingsPath:  str(EnvSettingsPath, f.SettingsPath, DefaultSettings),
		cacheRedisURL: str(EnvCacheRedisURL, f.CacheRedisURL, ""),
		logLevel:      strings.ToLower(str(EnvLogLevel, f.LogLevel, DefaultLogLevel)),
		features:      map[string]bool{},
	}

	for _, feat := range f.Features {
		c.addFeature(feat)
	}
	if v, ok := o.lookup(EnvFeatures); ok {
		c.features = map[string]bool{}
		for _, feat := range strings.Split(v, ",") {
			c.addFeature(feat)
		}
	}

	if f.UseMockData != nil {
		c.useMockData = *f.UseMockData
	}
	if v, ok := o.lookup(EnvUseMockData); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", EnvUseMockData, err)
		}
		c.useMockData = b
	}

	tz := str(EnvTimezone, f.Timezone, DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", EnvTimezone, err)
	}
	c.location = loc

	c.timeout = DefaultTimeout
	if v := str(EnvTimeout, f.Timeout, ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", EnvTimeout, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("config: %s must be positive", EnvTimeout)
		}
		c.timeout = d
	}

	if c.apiURL == "" && !c.useMockData {
		return Config{}, ErrMissingAPIURL
	}
	return c, nil
}

func (c *Config) addFeature(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		c.features[name] = true
	}
}
