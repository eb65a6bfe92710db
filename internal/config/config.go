package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"

	"github.com/shaiso/relay/internal/mq"
	"github.com/shaiso/relay/internal/repo"
)

//go:embed sample_config.toml
var sampleConfig []byte

// EnvConfigPath — переменная окружения с путём к файлу конфигурации.
const EnvConfigPath = "RELAY_CONFIG"

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Duration — time.Duration, которая читается из TOML строкой ("10s").
type Duration time.Duration

// UnmarshalText разбирает длительность в формате time.ParseDuration.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText возвращает длительность в формате time.Duration.String.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std возвращает time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config — конфигурация всех процессов Relay.
type Config struct {
	Database     DatabaseConfig     `toml:"database"`
	RabbitMQ     RabbitMQConfig     `toml:"rabbitmq"`
	Log          LogConfig          `toml:"log"`
	Engine       EngineConfig       `toml:"engine"`
	API          APIConfig          `toml:"api"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	CLI          CLIConfig          `toml:"cli"`
}

// DatabaseConfig — подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `toml:"url"`
	MaxConns int    `toml:"max_conns"`
}

// RabbitMQConfig — подключение к RabbitMQ.
type RabbitMQConfig struct {
	URL string `toml:"url"`
}

// LogConfig — параметры логирования.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// EngineConfig — параметры сборки flow.
type EngineConfig struct {
	StepTimeout Duration `toml:"step_timeout"`
}

// APIConfig — HTTP API.
type APIConfig struct {
	Port           int      `toml:"port"`
	ExecuteTimeout Duration `toml:"execute_timeout"`

	// CORSOrigins — origin браузерных клиентов. Пусто — CORS выключен.
	CORSOrigins []string `toml:"cors_origins"`
}

// OrchestratorConfig — оркестратор runs.
type OrchestratorConfig struct {
	Port          int      `toml:"port"`
	PollInterval  Duration `toml:"poll_interval"`
	BatchSize     int      `toml:"batch_size"`
	MaxConcurrent int      `toml:"max_concurrent"`
	RunTimeout    Duration `toml:"run_timeout"`
}

// SchedulerConfig — планировщик.
type SchedulerConfig struct {
	Port         int      `toml:"port"`
	TickInterval Duration `toml:"tick_interval"`
	SyncInterval Duration `toml:"sync_interval"`
}

// CLIConfig — параметры CLI.
type CLIConfig struct {
	APIURL string `toml:"api_url"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Database: DatabaseConfig{URL: repo.DefaultDSN, MaxConns: 10},
		RabbitMQ: RabbitMQConfig{URL: mq.DefaultURL()},
		Log:      LogConfig{Level: "info", Format: "json"},
		Engine:   EngineConfig{StepTimeout: Duration(5 * time.Minute)},
		API: APIConfig{
			Port:           8080,
			ExecuteTimeout: Duration(time.Minute),
		},
		Orchestrator: OrchestratorConfig{
			Port:          8083,
			PollInterval:  Duration(10 * time.Second),
			BatchSize:     100,
			MaxConcurrent: 16,
		},
		Scheduler: SchedulerConfig{
			Port:         8081,
			TickInterval: Duration(time.Second),
			SyncInterval: Duration(30 * time.Second),
		},
		CLI: CLIConfig{APIURL: "http://localhost:8080"},
	}
}

// Load читает конфигурацию.
//
// Порядок: значения по умолчанию, файл (path, затем RELAY_CONFIG),
// переменные окружения. Файл не обязателен, если путь не задан явно.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup(EnvConfigPath)
	}

	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		// Ненулевые значения файла перекрывают значения по умолчанию
		if err := mergo.Merge(&cfg, file, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readFile(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv применяет переменные окружения поверх файла.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	port := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be a port number, got %q", ErrInvalidConfig, name, v)
		}
		*dst = n
		return nil
	}

	str("DB_URL", &c.Database.URL)
	str("RABBITMQ_URL", &c.RabbitMQ.URL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("RELAY_API_URL", &c.CLI.APIURL)

	if err := port("API_PORT", &c.API.Port); err != nil {
		return err
	}
	if err := port("ORCH_PORT", &c.Orchestrator.Port); err != nil {
		return err
	}
	return port("SCHED_PORT", &c.Scheduler.Port)
}

// Validate проверяет конфигурацию.
func (c *Config) Validate() error {
	ports := map[string]int{
		"api.port":          c.API.Port,
		"orchestrator.port": c.Orchestrator.Port,
		"scheduler.port":    c.Scheduler.Port,
	}
	for name, p := range ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: %s out of range: %d", ErrInvalidConfig, name, p)
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log.format must be json or text, got %q", ErrInvalidConfig, c.Log.Format)
	}

	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("%w: database.max_conns must be positive, got %d", ErrInvalidConfig, c.Database.MaxConns)
	}

	if c.Orchestrator.RunTimeout < 0 {
		return fmt.Errorf("%w: orchestrator.run_timeout must not be negative", ErrInvalidConfig)
	}

	return nil
}

// Addr возвращает адрес для net/http по номеру порта.
func Addr(port int) string {
	return ":" + strconv.Itoa(port)
}

// Sample возвращает пример файла конфигурации.
func Sample() []byte {
	return sampleConfig
}

// CreateSample записывает пример конфигурации в path.
// Существующий файл не перезаписывается.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create sample config: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(sampleConfig); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
