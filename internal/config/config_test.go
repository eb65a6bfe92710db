package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Default()
	if cfg.API.Port != want.API.Port || cfg.Database.URL != want.Database.URL {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if cfg.Orchestrator.PollInterval.Std() != 10*time.Second {
		t.Errorf("expected poll interval 10s, got %s", cfg.Orchestrator.PollInterval.Std())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[database]
url = "postgresql://file/relay"
max_conns = 4

[api]
port = 9090
cors_origins = ["http://localhost:3000"]

[orchestrator]
poll_interval = "2s"
max_concurrent = 4
run_timeout = "30s"
`)

	cfg, err := load(path, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.URL != "postgresql://file/relay" || cfg.Database.MaxConns != 4 {
		t.Errorf("unexpected database config from file: %+v", cfg.Database)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("expected api port 9090, got %d", cfg.API.Port)
	}
	if len(cfg.API.CORSOrigins) != 1 || cfg.API.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected cors origins: %v", cfg.API.CORSOrigins)
	}
	if cfg.Orchestrator.PollInterval.Std() != 2*time.Second || cfg.Orchestrator.RunTimeout.Std() != 30*time.Second {
		t.Errorf("unexpected orchestrator durations: %+v", cfg.Orchestrator)
	}

	// Значения, которых нет в файле, остаются по умолчанию
	if cfg.Orchestrator.BatchSize != 100 || cfg.Scheduler.Port != 8081 {
		t.Errorf("defaults lost after merge: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "[api]\nport = 9090\n")

	cfg, err := load("", env(map[string]string{
		EnvConfigPath:  path,
		"API_PORT":     "7070",
		"DB_URL":       "postgresql://env/relay",
		"RABBITMQ_URL": "amqp://env/",
		"LOG_LEVEL":    "debug",
		"LOG_FORMAT":   "text",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.Port != 7070 {
		t.Errorf("env must override file, got port %d", cfg.API.Port)
	}
	if cfg.Database.URL != "postgresql://env/relay" || cfg.RabbitMQ.URL != "amqp://env/" {
		t.Errorf("unexpected urls: %+v %+v", cfg.Database, cfg.RabbitMQ)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		env     map[string]string
		wantErr error
		wantMsg string
	}{
		{name: "missing file", path: filepath.Join(t.TempDir(), "nope.toml"), wantMsg: "not found"},
		{name: "unknown field", path: writeConfig(t, "[api]\nhost = \"x\"\n"), wantMsg: "parse config"},
		{name: "bad duration", path: writeConfig(t, "[api]\nexecute_timeout = \"soon\"\n"), wantMsg: "parse config"},
		{name: "bad port env", env: map[string]string{"API_PORT": "http"}, wantErr: ErrInvalidConfig},
		{name: "port out of range", path: writeConfig(t, "[scheduler]\nport = 70000\n"), wantErr: ErrInvalidConfig},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}, wantErr: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(tt.path, env(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in %v", tt.wantMsg, err)
			}
		})
	}
}

func TestSample(t *testing.T) {
	var cfg Config
	if err := toml.Unmarshal(Sample(), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.API.Port != 8080 || cfg.Scheduler.SyncInterval.Std() != 30*time.Second {
		t.Errorf("unexpected sample values: %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "conf", "relay.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	if _, err := load(path, env(nil)); err != nil {
		t.Errorf("sample config does not load: %v", err)
	}
	if err := CreateSample(path); err == nil {
		t.Error("existing file must not be overwritten")
	}
}

func TestDuration_MarshalText(t *testing.T) {
	text, err := Duration(90 * time.Second).MarshalText()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(text) != "1m30s" {
		t.Errorf("expected 1m30s, got %s", text)
	}
}

func TestAddr(t *testing.T) {
	if got := Addr(8080); got != ":8080" {
		t.Errorf("expected :8080, got %s", got)
	}
}
