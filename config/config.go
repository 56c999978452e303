package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zanbei/agentx/errors"
	"gopkg.in/yaml.v3"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DynamoTables names the tables used by the dynamodb store driver.
type DynamoTables struct {
	Agents        string `yaml:"agents"`
	MCPServers    string `yaml:"mcp_servers"`
	ChatRecords   string `yaml:"chat_records"`
	ChatResponses string `yaml:"chat_responses"`
	Schedules     string `yaml:"schedules"`
}

type StoreConfig struct {
	// Driver is one of memory, sqlite3, postgres, mysql, dynamodb.
	Driver   string       `yaml:"driver"`
	DSN      string       `yaml:"dsn"`
	MaxConns int          `yaml:"max_conns"`
	Region   string       `yaml:"region"`
	Endpoint string       `yaml:"endpoint"`
	Tables   DynamoTables `yaml:"tables"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// ModelConfig overrides the managed-cloud retry policy. Zero values keep the
// selector defaults.
type ModelConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
}

type AgentConfig struct {
	MaxCycles int `yaml:"max_cycles"`
	MaxDepth  int `yaml:"max_depth"`
}

type ToolsConfig struct {
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
	AllowedCommands  []string         `yaml:"allowed_commands"`
	HTTPTimeout      time.Duration    `yaml:"http_timeout"`
	MaxResponseBytes int64            `yaml:"max_response_bytes"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Model     ModelConfig     `yaml:"model"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// Default returns the configuration used when no file or variable overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Tables: DynamoTables{
				Agents:        "AgentTable",
				MCPServers:    "HttpMCPTable",
				ChatRecords:   "ChatRecordTable",
				ChatResponses: "ChatResponseTable",
				Schedules:     "AgentScheduleTable",
			},
		},
		Log:       LogConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{ServiceName: "agentx"},
		Model:     ModelConfig{MaxTokens: 4096},
		Agent:     AgentConfig{MaxCycles: 20, MaxDepth: 5},
		Tools: ToolsConfig{
			FilesystemAccess: FilesystemAccess{Hidden: []string{".agentx", ".agentx/**", ".env"}},
			HTTPTimeout:      30 * time.Second,
			MaxResponseBytes: 1 << 20,
		},
	}
}

// Load reads .env, then the user-level and project-level config files (the
// latter taking precedence), then AGENTX_* environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "error loading .env")
	}

	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		if err := loadIfExists(filepath.Join(home, ".agentx", "config.yaml"), cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading user config")
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	if err := loadIfExists(filepath.Join(wd, ".agentx", "config.yaml"), cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading project config")
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile reads a single explicit config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	cfg.applyEnv()
	return cfg, nil
}

func loadIfExists(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return loadFromFile(path, cfg)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the file overwrite what is already set.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	c.Server.Addr = envStr("AGENTX_ADDR", c.Server.Addr)
	c.Store.Driver = envStr("AGENTX_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = envStr("AGENTX_STORE_DSN", c.Store.DSN)
	c.Store.Region = envStr("AGENTX_STORE_REGION", c.Store.Region)
	c.Store.Endpoint = envStr("AGENTX_STORE_ENDPOINT", c.Store.Endpoint)
	c.Log.Level = envStr("AGENTX_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("AGENTX_LOG_FORMAT", c.Log.Format)
	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Model.MaxAttempts = envInt("AGENTX_MODEL_MAX_ATTEMPTS", c.Model.MaxAttempts)
	c.Agent.MaxCycles = envInt("AGENTX_AGENT_MAX_CYCLES", c.Agent.MaxCycles)
	c.Agent.MaxDepth = envInt("AGENTX_AGENT_MAX_DEPTH", c.Agent.MaxDepth)
	if v := envStr("AGENTX_ALLOWED_COMMANDS", ""); v != "" {
		c.Tools.AllowedCommands = strings.Split(v, ",")
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
