package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setEnv sets environment variables for the duration of a test
func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OMD_ROOT", "RELAY_CONFIG", "DATA_DIR", "RELAY_VAR_DIR", "JWT_SECRET",
		"HTTP_ADDR", "REDIS_ADDR", "REDIS_PASS", "REDIS_DB", "MYSQL_DSN",
		"TLS_CERT", "TLS_KEY", "CERT_VALIDITY_DAYS", "TASK_SWEEPER_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"OMD_ROOT":   "/omd/sites/prod",
		"JWT_SECRET": "secret",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.RelayConfigPath != filepath.Join("/omd/sites/prod", "relay_config.json") {
		t.Errorf("Unexpected relay config path %s", cfg.RelayConfigPath)
	}
	if cfg.DataDir != filepath.Join("/omd/sites/prod", "etc", "relay") {
		t.Errorf("Unexpected data dir %s", cfg.DataDir)
	}
	if cfg.VarDir != filepath.Join("/omd/sites/prod", "var", "relay") {
		t.Errorf("Unexpected var dir %s", cfg.VarDir)
	}
	if cfg.Redis.Addr != "" || cfg.MySQL.DSN != "" {
		t.Error("Redis and MySQL should be disabled by default")
	}
	if cfg.TLS.Enabled() {
		t.Error("TLS should be disabled by default")
	}
	if !cfg.TaskSweeper.Enabled {
		t.Error("Task sweeper should be enabled by default")
	}
}

func TestLoad_MissingSiteRoot(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{"JWT_SECRET": "secret"})

	if _, err := Load(); err == nil {
		t.Error("Expected error when OMD_ROOT is missing")
	}
}

func TestLoad_ExplicitPathsWithoutSiteRoot(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"JWT_SECRET":    "secret",
		"RELAY_CONFIG":  "/etc/relayd/relay_config.json",
		"DATA_DIR":      "/var/lib/relayd",
		"RELAY_VAR_DIR": "/var/lib/relayd/var",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/relayd" {
		t.Errorf("Expected explicit data dir, got %s", cfg.DataDir)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{"OMD_ROOT": "/omd/sites/prod"})

	if _, err := Load(); err == nil {
		t.Error("Expected error when JWT_SECRET is missing")
	}
}

func TestLoad_HalfTLS(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"OMD_ROOT":   "/omd/sites/prod",
		"JWT_SECRET": "secret",
		"TLS_CERT":   "/etc/ssl/relayd.crt",
	})

	if _, err := Load(); err == nil {
		t.Error("Expected error when TLS_KEY is missing")
	}
}

func TestLoadFromINI_EnvOverrides(t *testing.T) {
	clearEnv(t)
	iniPath := filepath.Join(t.TempDir(), "relayd.ini")
	content := `
[site]
root = /omd/sites/ini

[http]
addr = :9090

[jwt]
secret = from-ini

[redis]
addr = redis.example.com:6379
db = 3

[task_sweeper]
enabled = false
interval_sec = 15
`
	if err := os.WriteFile(iniPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	setEnv(t, map[string]string{"HTTP_ADDR": ":7070"})

	cfg, err := LoadFromINI(iniPath)
	if err != nil {
		t.Fatalf("LoadFromINI() failed: %v", err)
	}

	if cfg.HTTPAddr != ":7070" {
		t.Errorf("Expected env override :7070, got %s", cfg.HTTPAddr)
	}
	if cfg.SiteRoot != "/omd/sites/ini" {
		t.Errorf("Expected site root from INI, got %s", cfg.SiteRoot)
	}
	if cfg.JWT.Secret != "from-ini" {
		t.Errorf("Expected JWT secret from INI, got %s", cfg.JWT.Secret)
	}
	if cfg.Redis.Addr != "redis.example.com:6379" || cfg.Redis.DB != 3 {
		t.Errorf("Unexpected redis config %+v", cfg.Redis)
	}
	if cfg.TaskSweeper.Enabled || cfg.TaskSweeper.IntervalSec != 15 {
		t.Errorf("Unexpected sweeper config %+v", cfg.TaskSweeper)
	}
}

func TestLoadFromINI_MissingFile(t *testing.T) {
	if _, err := LoadFromINI(filepath.Join(t.TempDir(), "absent.ini")); err == nil {
		t.Error("Expected error for a missing INI file")
	}
}

func TestLoadRelayConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadRelayConfig(filepath.Join(t.TempDir(), "relay_config.json"))
	if err != nil {
		t.Fatalf("LoadRelayConfig() failed: %v", err)
	}
	if cfg.TaskTTL != 120*time.Second || cfg.MaxTasksPerRelay != 10 {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoadRelayConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    RelayConfig
		wantErr bool
	}{
		{
			name:    "both keys",
			content: `{"task_ttl": 2.5, "max_tasks_per_relay": 3}`,
			want:    RelayConfig{TaskTTL: 2500 * time.Millisecond, MaxTasksPerRelay: 3},
		},
		{
			name: "comments and trailing comma",
			content: `{
				// shorter TTL for the lab site
				"task_ttl": 30,
			}`,
			want: RelayConfig{TaskTTL: 30 * time.Second, MaxTasksPerRelay: DefaultMaxTasksPerRelay},
		},
		{
			name:    "camel case keys",
			content: `{"taskTTL": 1, "maxTasksPerRelay": 2}`,
			want:    RelayConfig{TaskTTL: time.Second, MaxTasksPerRelay: 2},
		},
		{
			name:    "snake case wins",
			content: `{"task_ttl": 5, "taskTTL": 1}`,
			want:    RelayConfig{TaskTTL: 5 * time.Second, MaxTasksPerRelay: DefaultMaxTasksPerRelay},
		},
		{
			name:    "empty object",
			content: `{}`,
			want:    DefaultRelayConfig(),
		},
		{name: "zero ttl", content: `{"task_ttl": 0}`, wantErr: true},
		{name: "ttl beyond duration range", content: `{"task_ttl": 1e10}`, wantErr: true},
		{name: "camel case ttl beyond duration range", content: `{"taskTTL": 1e300}`, wantErr: true},
		{
			name:    "one year ttl",
			content: `{"task_ttl": 31536000}`,
			want:    RelayConfig{TaskTTL: 365 * 24 * time.Hour, MaxTasksPerRelay: DefaultMaxTasksPerRelay},
		},
		{name: "negative capacity", content: `{"max_tasks_per_relay": -1}`, wantErr: true},
		{name: "not json", content: `task_ttl = 3`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "relay_config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			got, err := LoadRelayConfig(path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadRelayConfig() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("LoadRelayConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
