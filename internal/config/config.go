package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	GeneralParams    GeneralParams
	HttpServerParams HttpServerParams
	RelayParams      RelayParams
	MainDBParams     MainDBParams
	S3Params         S3Params
}

type GeneralParams struct {
	Env       string
	LogLevel  string
	SecretKey string
}

type HttpServerParams struct {
	Address        string
	Port           string
	AllowedOrigins []string
}

type RelayParams struct {
	SweepInterval   time.Duration
	PresenceTimeout time.Duration
	IdleTimeout     time.Duration
	RateLimit       int
	TicketTTL       time.Duration

	// Snapshots not saved for this long are purged from the store
	SnapshotRetention time.Duration

	// A closed room keeps its code for this long
	ClosedRetention time.Duration
}

// MainDBParams is optional; without a host the relay keeps snapshots in memory
type MainDBParams struct {
	Username string
	Password string
	Name     string
	Port     int
	Host     string
	Timeout  int
	MaxConns int32
}

// S3Params is optional; without an endpoint the title catalog is empty
type S3Params struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	PresignTTL      time.Duration
}

type ConfigManager struct {
	v      *viper.Viper
	config *Config
}

// LoadDotEnv loads variables from .env files when present. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

// NewConfigManager creates new config manager that handles
// all viper config options and loads a config from yaml
func NewConfigManager(configPath string) (*ConfigManager, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	setRelayDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cm := &ConfigManager{v: v}
	cm.loadConfig()

	return cm, nil
}

func setRelayDefaults(v *viper.Viper) {
	v.SetDefault("general_params.env", "dev")
	v.SetDefault("http_server_params.http_server_address", "0.0.0.0")
	v.SetDefault("http_server_params.http_server_port", "8080")
	v.SetDefault("relay_params.sweep_interval", 30*time.Second)
	v.SetDefault("relay_params.presence_timeout", 90*time.Second)
	v.SetDefault("relay_params.idle_timeout", 5*time.Minute)
	v.SetDefault("relay_params.rate_limit", 20)
	v.SetDefault("relay_params.ticket_ttl", time.Minute)
	v.SetDefault("relay_params.snapshot_retention", 24*time.Hour)
	v.SetDefault("relay_params.closed_retention", time.Hour)
	v.SetDefault("main_db_params.db_port", 5432)
	v.SetDefault("main_db_params.db_timeout", 5)
	v.SetDefault("s3_params.presign_ttl", 6*time.Hour)
}

// Extracting data from yaml file and loading into Config
func (cm *ConfigManager) loadConfig() {
	cm.config = &Config{
		GeneralParams: GeneralParams{
			Env:       cm.v.GetString("general_params.env"),
			LogLevel:  cm.v.GetString("general_params.log_level"),
			SecretKey: cm.v.GetString("general_params.secret_key"),
		},
		HttpServerParams: HttpServerParams{
			Address:        cm.v.GetString("http_server_params.http_server_address"),
			Port:           cm.v.GetString("http_server_params.http_server_port"),
			AllowedOrigins: cm.v.GetStringSlice("http_server_params.allowed_origins"),
		},
		RelayParams: RelayParams{
			SweepInterval:     cm.v.GetDuration("relay_params.sweep_interval"),
			PresenceTimeout:   cm.v.GetDuration("relay_params.presence_timeout"),
			IdleTimeout:       cm.v.GetDuration("relay_params.idle_timeout"),
			RateLimit:         cm.v.GetInt("relay_params.rate_limit"),
			TicketTTL:         cm.v.GetDuration("relay_params.ticket_ttl"),
			SnapshotRetention: cm.v.GetDuration("relay_params.snapshot_retention"),
			ClosedRetention:   cm.v.GetDuration("relay_params.closed_retention"),
		},
		MainDBParams: MainDBParams{
			Username: cm.v.GetString("main_db_params.db_username"),
			Password: cm.v.GetString("main_db_params.db_password"),
			Name:     cm.v.GetString("main_db_params.db_name"),
			Port:     cm.v.GetInt("main_db_params.db_port"),
			Host:     cm.v.GetString("main_db_params.db_host"),
			Timeout:  cm.v.GetInt("main_db_params.db_timeout"),
			MaxConns: cm.v.GetInt32("main_db_params.max_conns"),
		},
		S3Params: S3Params{
			Endpoint:        cm.v.GetString("s3_params.endpoint"),
			AccessKeyID:     cm.v.GetString("s3_params.access_key_id"),
			SecretAccessKey: cm.v.GetString("s3_params.secret_access_key"),
			UseSSL:          cm.v.GetBool("s3_params.use_ssl"),
			BucketName:      cm.v.GetString("s3_params.bucket_name"),
			PresignTTL:      cm.v.GetDuration("s3_params.presign_ttl"),
		},
	}
}

// Geting config instance
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// Enabled reports whether a database is configured
func (db *MainDBParams) Enabled() bool {
	return db.Host != ""
}

// Compiling a string to connect to main_db
func (db *MainDBParams) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=%d&sslmode=disable",
		db.Username,
		db.Password,
		db.Host,
		db.Port,
		db.Name,
		db.Timeout,
	)
}

// Enabled reports whether an object store is configured
func (s *S3Params) Enabled() bool {
	return s.Endpoint != ""
}

func (h *HttpServerParams) GetAddress() string {
	return fmt.Sprintf(
		"%s:%s",
		h.Address,
		h.Port,
	)
}

func (c *Config) Validate() error {
	// Checking secret key
	if c.GeneralParams.SecretKey == "" {
		return fmt.Errorf("parameter secret_key is required")
	}

	// Checking out enviroment variable
	if err := validateEnv(c.GeneralParams.Env); err != nil {
		return err
	}

	// Checking http server parameters
	if c.HttpServerParams.Address == "" {
		return fmt.Errorf("http server address is required")
	}
	if c.HttpServerParams.Port == "" {
		return fmt.Errorf("http server port is required")
	}

	// Checking relay timings
	r := c.RelayParams
	if r.SweepInterval <= 0 || r.PresenceTimeout <= 0 || r.IdleTimeout <= 0 {
		return fmt.Errorf("relay sweep_interval, presence_timeout and idle_timeout must be positive")
	}
	if r.PresenceTimeout < r.SweepInterval {
		return fmt.Errorf("relay presence_timeout (%s) must not be shorter than sweep_interval (%s)", r.PresenceTimeout, r.SweepInterval)
	}
	if r.TicketTTL <= 0 {
		return fmt.Errorf("relay ticket_ttl must be positive")
	}

	// Checking MainDB params, only when configured
	if db := c.MainDBParams; db.Enabled() {
		if db.Username == "" {
			return fmt.Errorf("MainDB: username is required")
		}
		if db.Password == "" {
			return fmt.Errorf("MainDB: password is requred")
		}
		if db.Name == "" {
			return fmt.Errorf("MainDB: name is required")
		}
		if db.Port <= 0 || db.Port > 65535 {
			return fmt.Errorf("MainDB: port is invalid")
		}
	}

	// Checking S3 params, only when configured
	if s3 := c.S3Params; s3.Enabled() {
		if s3.AccessKeyID == "" {
			return fmt.Errorf("S3 access_key id is required")
		}
		if s3.SecretAccessKey == "" {
			return fmt.Errorf("S3 secret_access_key is required")
		}
		if s3.BucketName == "" {
			return fmt.Errorf("S3 bucket name is required")
		}
	}

	return nil
}

func validateEnv(env string) error {
	switch env {
	case "dev", "prod", "test":
		return nil
	default:
		return fmt.Errorf("env parameter is invalid: %s. try dev/prod/test instead", env)
	}
}
