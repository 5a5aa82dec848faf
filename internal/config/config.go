package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ride-router/internal/models"
)

const (
	AppDirName       = ".ride-router"
	ConfigFileName   = "config.yaml"
	SessionsFileName = "sessions.json"
	SQLiteDBFileName = "sessions.db"

	// ConfigPathEnv overrides the config file location
	ConfigPathEnv = "RIDE_ROUTER_CONFIG"
)

// Store drivers
const (
	DriverJSON     = "json"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the full application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Office     OfficeConfig     `yaml:"office"`
	Routing    RoutingConfig    `yaml:"routing"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Store      StoreConfig      `yaml:"store"`
	Geocoding  GeocodingConfig  `yaml:"geocoding"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// OptimizeRate is the sustained optimize requests per second allowed
	OptimizeRate   float64 `yaml:"optimize_rate"`
	OptimizeBurst  int     `yaml:"optimize_burst"`
	MaxRuns        int     `yaml:"max_runs"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
}

type OfficeConfig struct {
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
	Address string  `yaml:"address"`
}

type RoutingConfig struct {
	MinPassengers       int     `yaml:"min_passengers"`
	MaxPassengers       int     `yaml:"max_passengers"`
	MinClusterSize      int     `yaml:"min_cluster_size"`
	CostPerKm           float64 `yaml:"cost_per_km"`
	Workers             int     `yaml:"workers"`
	LargeInputThreshold int     `yaml:"large_input_threshold"`
}

// ClusteringConfig holds the eps slider: a default and its bounds, in km
type ClusteringConfig struct {
	DefaultEpsKm float64 `yaml:"default_eps_km"`
	MinEpsKm     float64 `yaml:"min_eps_km"`
	MaxEpsKm     float64 `yaml:"max_eps_km"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	JSONPath    string `yaml:"json_path"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
}

type GeocodingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			OptimizeRate:   2,
			OptimizeBurst:  5,
			MaxRuns:        50,
			MaxUploadBytes: 5 << 20,
		},
		Office: OfficeConfig{
			Lat: 5.582636441579255,
			Lng: -0.143551646497661,
		},
		Routing: RoutingConfig{
			MinPassengers:       3,
			MaxPassengers:       4,
			CostPerKm:           2.5,
			LargeInputThreshold: 2000,
		},
		Clustering: ClusteringConfig{
			DefaultEpsKm: 2.0,
			MinEpsKm:     0.5,
			MaxEpsKm:     5.0,
		},
		Store: StoreConfig{
			Driver: DriverJSON,
		},
		Geocoding: GeocodingConfig{
			Enabled:   true,
			BaseURL:   "https://nominatim.openstreetmap.org",
			UserAgent: "RideRouter/1.0",
		},
	}
}

// AppDir returns ~/.ride-router, creating it if needed
func AppDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	appDir := filepath.Join(homeDir, AppDirName)
	if err := os.MkdirAll(appDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create app directory: %w", err)
	}

	return appDir, nil
}

// Path returns the config file location: $RIDE_ROUTER_CONFIG or
// ~/.ride-router/config.yaml
func Path() (string, error) {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p, nil
	}
	appDir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(appDir, ConfigFileName), nil
}

// Load reads .env, then the config file, then environment overrides
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[CONFIG] No .env file found (using environment variables)")
	}

	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile builds a config from defaults, the YAML file at path (a missing
// file is not an error) and environment overrides, then validates it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("[CONFIG] No config file at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		log.Printf("[CONFIG] Loaded config file: path=%s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = f
		return nil
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("SERVER_ADDR", &c.Server.Addr)
	setString("STORE_DRIVER", &c.Store.Driver)
	setString("SQLITE_PATH", &c.Store.SQLitePath)
	setString("DATABASE_URL", &c.Store.DatabaseURL)
	setString("REDIS_URL", &c.Store.RedisURL)

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"OFFICE_LAT", &c.Office.Lat},
		{"OFFICE_LNG", &c.Office.Lng},
		{"COST_PER_KM", &c.Routing.CostPerKm},
	} {
		if err := setFloat(f.key, f.dst); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"MIN_PASSENGERS", &c.Routing.MinPassengers},
		{"MAX_PASSENGERS", &c.Routing.MaxPassengers},
		{"WORKERS", &c.Routing.Workers},
	} {
		if err := setInt(f.key, f.dst); err != nil {
			return err
		}
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	return nil
}

// Validate checks that the configuration can drive an optimization run
func (c *Config) Validate() error {
	var errs []error

	if !c.OfficeCoords().Valid() {
		errs = append(errs, fmt.Errorf("office coordinates out of range: %v,%v", c.Office.Lat, c.Office.Lng))
	}
	if c.Routing.MinPassengers < 1 {
		errs = append(errs, fmt.Errorf("min_passengers must be at least 1, got %d", c.Routing.MinPassengers))
	}
	if c.Routing.MaxPassengers < c.Routing.MinPassengers {
		errs = append(errs, fmt.Errorf("max_passengers (%d) must not be below min_passengers (%d)",
			c.Routing.MaxPassengers, c.Routing.MinPassengers))
	}
	if c.Routing.MinClusterSize < 0 {
		errs = append(errs, fmt.Errorf("min_cluster_size must not be negative, got %d", c.Routing.MinClusterSize))
	}
	if c.Routing.CostPerKm <= 0 {
		errs = append(errs, fmt.Errorf("cost_per_km must be positive, got %v", c.Routing.CostPerKm))
	}
	if c.Routing.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Routing.Workers))
	}
	if c.Clustering.MinEpsKm <= 0 || c.Clustering.MinEpsKm > c.Clustering.MaxEpsKm {
		errs = append(errs, fmt.Errorf("eps bounds must satisfy 0 < min_eps_km <= max_eps_km, got [%v, %v]",
			c.Clustering.MinEpsKm, c.Clustering.MaxEpsKm))
	} else if c.Clustering.DefaultEpsKm < c.Clustering.MinEpsKm || c.Clustering.DefaultEpsKm > c.Clustering.MaxEpsKm {
		errs = append(errs, fmt.Errorf("default_eps_km %v outside [%v, %v]",
			c.Clustering.DefaultEpsKm, c.Clustering.MinEpsKm, c.Clustering.MaxEpsKm))
	}
	if c.Server.OptimizeRate <= 0 || c.Server.OptimizeBurst < 1 {
		errs = append(errs, fmt.Errorf("optimize rate limit must be positive, got rate=%v burst=%d",
			c.Server.OptimizeRate, c.Server.OptimizeBurst))
	}
	if c.Server.MaxRuns < 1 {
		errs = append(errs, fmt.Errorf("max_runs must be at least 1, got %d", c.Server.MaxRuns))
	}

	switch c.Store.Driver {
	case DriverJSON, DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store driver postgres requires database_url"))
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store driver redis requires redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// OfficeCoords returns the office location
func (c *Config) OfficeCoords() models.Coordinates {
	return models.Coordinates{Lat: c.Office.Lat, Lng: c.Office.Lng}
}

// EffectiveMinClusterSize returns the DBSCAN min_samples value
func (c *Config) EffectiveMinClusterSize() int {
	if c.Routing.MinClusterSize > 0 {
		return c.Routing.MinClusterSize
	}
	return c.Routing.MinPassengers
}

// Save writes the config to path as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Atomic write
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	log.Printf("[CONFIG] Config saved: path=%s store=%s", path, c.Store.Driver)
	return nil
}

// ResolvedJSONPath returns the JSON snapshot file, defaulting to
// ~/.ride-router/sessions.json
func (s *StoreConfig) ResolvedJSONPath() (string, error) {
	return s.resolve(s.JSONPath, SessionsFileName)
}

// ResolvedSQLitePath returns the SQLite database file, defaulting to
// ~/.ride-router/sessions.db
func (s *StoreConfig) ResolvedSQLitePath() (string, error) {
	return s.resolve(s.SQLitePath, SQLiteDBFileName)
}

func (s *StoreConfig) resolve(path, fileName string) (string, error) {
	if path != "" {
		return path, nil
	}
	appDir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(appDir, fileName), nil
}
