package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportRelay  = "relay"
)

// Client config keys, also used to bind CLI flags
const (
	KeyEnv              = "env"
	KeyLogLevel         = "log_level"
	KeyTransport        = "transport"
	KeyRelayURL         = "relay_url"
	KeyRedisURL         = "redis_url"
	KeySnapshotTTL      = "snapshot_ttl"
	KeyParticipantID    = "participant_id"
	KeyDisplayName      = "display_name"
	KeyHeartbeatPeriod  = "session.heartbeat_period"
	KeyTimeoutMultiple  = "session.timeout_multiple"
	KeyDiscoveryTimeout = "session.discovery_timeout"
	KeyPublishTimeout   = "session.publish_timeout"
)

type ClientConfig struct {
	Env           string
	LogLevel      string
	Transport     string
	RelayURL      string
	RedisURL      string
	SnapshotTTL   time.Duration
	ParticipantID string
	DisplayName   string
	Session       SessionParams
}

type SessionParams struct {
	HeartbeatPeriod  time.Duration
	TimeoutMultiple  int
	DiscoveryTimeout time.Duration
	PublishTimeout   time.Duration
}

// ClientConfigManager loads the CLI config from a per-user yaml file,
// APP_ prefixed env vars and bound flags, in viper's usual precedence
type ClientConfigManager struct {
	v    *viper.Viper
	path string
}

// NewClientConfigManager reads configPath, defaulting to ~/.watchparty.yaml.
// A missing file is not an error.
func NewClientConfigManager(configPath string) (*ClientConfigManager, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		configPath = filepath.Join(home, ".watchparty.yaml")
	}

	v := newViper()
	v.SetConfigFile(configPath)
	setClientDefaults(v)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return &ClientConfigManager{v: v, path: configPath}, nil
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault(KeyEnv, "prod")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyTransport, TransportRelay)
	v.SetDefault(KeyRelayURL, "http://localhost:8080")
	v.SetDefault(KeySnapshotTTL, 6*time.Hour)
	v.SetDefault(KeyHeartbeatPeriod, 30*time.Second)
	v.SetDefault(KeyTimeoutMultiple, 3)
	v.SetDefault(KeyDiscoveryTimeout, 5*time.Second)
	v.SetDefault(KeyPublishTimeout, 5*time.Second)
}

// Viper exposes the underlying instance so commands can bind their flags
func (cm *ClientConfigManager) Viper() *viper.Viper {
	return cm.v
}

// Path is the config file this manager reads and writes
func (cm *ClientConfigManager) Path() string {
	return cm.path
}

// Load resolves every source into a validated ClientConfig
func (cm *ClientConfigManager) Load() (*ClientConfig, error) {
	c := &ClientConfig{
		Env:           cm.v.GetString(KeyEnv),
		LogLevel:      cm.v.GetString(KeyLogLevel),
		Transport:     cm.v.GetString(KeyTransport),
		RelayURL:      cm.v.GetString(KeyRelayURL),
		RedisURL:      cm.v.GetString(KeyRedisURL),
		SnapshotTTL:   cm.v.GetDuration(KeySnapshotTTL),
		ParticipantID: cm.v.GetString(KeyParticipantID),
		DisplayName:   cm.v.GetString(KeyDisplayName),
		Session: SessionParams{
			HeartbeatPeriod:  cm.v.GetDuration(KeyHeartbeatPeriod),
			TimeoutMultiple:  cm.v.GetInt(KeyTimeoutMultiple),
			DiscoveryTimeout: cm.v.GetDuration(KeyDiscoveryTimeout),
			PublishTimeout:   cm.v.GetDuration(KeyPublishTimeout),
		},
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// EnsureParticipantID returns the persisted participant id, generating and
// saving one on first use so a device keeps its identity across runs
func (cm *ClientConfigManager) EnsureParticipantID() (string, error) {
	if id := cm.v.GetString(KeyParticipantID); id != "" {
		return id, nil
	}

	id := uuid.NewString()

	// Write through a fresh instance so flags and env do not end up in the file
	w := viper.New()
	w.SetConfigType("yaml")
	w.SetConfigFile(cm.path)
	if err := w.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	w.Set(KeyParticipantID, id)

	if err := os.MkdirAll(filepath.Dir(cm.path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := w.WriteConfigAs(cm.path); err != nil {
		return "", fmt.Errorf("failed to save participant id: %w", err)
	}

	cm.v.Set(KeyParticipantID, id)
	return id, nil
}

func (c *ClientConfig) Validate() error {
	if err := validateEnv(c.Env); err != nil {
		return err
	}

	switch c.Transport {
	case TransportMemory:
	case TransportRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis transport")
		}
	case TransportRelay:
		if c.RelayURL == "" {
			return fmt.Errorf("relay_url is required for the relay transport")
		}
	default:
		return fmt.Errorf("transport is invalid: %s. try memory/redis/relay instead", c.Transport)
	}

	s := c.Session
	if s.HeartbeatPeriod <= 0 || s.DiscoveryTimeout <= 0 || s.PublishTimeout <= 0 {
		return fmt.Errorf("session heartbeat_period, discovery_timeout and publish_timeout must be positive")
	}
	if s.TimeoutMultiple < 2 {
		return fmt.Errorf("session timeout_multiple must be at least 2, got %d", s.TimeoutMultiple)
	}

	return nil
}
