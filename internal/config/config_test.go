package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const relayYAML = `
general_params:
  env: prod
  secret_key: s3cret
http_server_params:
  http_server_address: 127.0.0.1
  http_server_port: "9000"
relay_params:
  presence_timeout: 2m
`

func TestRelayConfigLoadsWithDefaults(t *testing.T) {
	cm, err := NewConfigManager(writeFile(t, "config.yaml", relayYAML))
	if err != nil {
		t.Fatal(err)
	}
	c := cm.GetConfig()

	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := c.HttpServerParams.GetAddress(); got != "127.0.0.1:9000" {
		t.Fatalf("address = %q", got)
	}
	if c.RelayParams.PresenceTimeout != 2*time.Minute {
		t.Fatalf("presence timeout = %s", c.RelayParams.PresenceTimeout)
	}
	if c.RelayParams.SweepInterval != 30*time.Second || c.RelayParams.TicketTTL != time.Minute {
		t.Fatalf("defaults not applied: %+v", c.RelayParams)
	}
	if c.MainDBParams.Enabled() || c.S3Params.Enabled() {
		t.Fatal("optional backends enabled without configuration")
	}
}

func TestRelayConfigEnvOverride(t *testing.T) {
	t.Setenv("APP_GENERAL_PARAMS_SECRET_KEY", "from-env")

	cm, err := NewConfigManager(writeFile(t, "config.yaml", relayYAML))
	if err != nil {
		t.Fatal(err)
	}
	if got := cm.GetConfig().GeneralParams.SecretKey; got != "from-env" {
		t.Fatalf("secret key = %q", got)
	}
}

func TestRelayConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "missing secret", mutate: func(c *Config) { c.GeneralParams.SecretKey = "" }, wantErr: "secret_key"},
		{name: "bad env", mutate: func(c *Config) { c.GeneralParams.Env = "staging" }, wantErr: "env parameter"},
		{name: "presence shorter than sweep", mutate: func(c *Config) { c.RelayParams.PresenceTimeout = time.Second }, wantErr: "presence_timeout"},
		{name: "db without password", mutate: func(c *Config) {
			c.MainDBParams.Host = "db"
			c.MainDBParams.Username = "movienights"
		}, wantErr: "password"},
		{name: "s3 without bucket", mutate: func(c *Config) {
			c.S3Params = S3Params{Endpoint: "minio:9000", AccessKeyID: "a", SecretAccessKey: "b"}
		}, wantErr: "bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, err := NewConfigManager(writeFile(t, "config.yaml", relayYAML))
			if err != nil {
				t.Fatal(err)
			}
			c := cm.GetConfig()
			tt.mutate(c)

			err = c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestClientConfigMissingFileUsesDefaults(t *testing.T) {
	cm, err := NewClientConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := cm.Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Transport != TransportRelay || c.Session.HeartbeatPeriod != 30*time.Second || c.Session.TimeoutMultiple != 3 {
		t.Fatalf("config = %+v", c)
	}
}

func TestClientConfigValidate(t *testing.T) {
	cm, err := NewClientConfigManager(writeFile(t, "client.yaml", "transport: redis\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cm.Load(); err == nil || !strings.Contains(err.Error(), "redis_url") {
		t.Fatalf("err = %v, want redis_url error", err)
	}

	cm.Viper().Set(KeyTransport, "carrier-pigeon")
	if _, err := cm.Load(); err == nil || !strings.Contains(err.Error(), "transport is invalid") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnsureParticipantIDPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "watchparty.yaml")

	cm, err := NewClientConfigManager(path)
	if err != nil {
		t.Fatal(err)
	}
	cm.Viper().Set(KeyDisplayName, "set by a flag")

	id, err := cm.EnsureParticipantID()
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty participant id")
	}

	again, err := NewClientConfigManager(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := again.Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.ParticipantID != id {
		t.Fatalf("reloaded id = %q, want %q", c.ParticipantID, id)
	}
	if c.DisplayName != "" {
		t.Fatalf("runtime override leaked into the file: %q", c.DisplayName)
	}

	if second, _ := again.EnsureParticipantID(); second != id {
		t.Fatalf("id regenerated: %q != %q", second, id)
	}
}
