package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CSVSQL"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Table    TableConfig    `mapstructure:"table"`
	Describe DescribeConfig `mapstructure:"describe"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Source   SourceConfig   `mapstructure:"source"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StoreConfig struct {
	// Engine is duckdb or sqlite.
	Engine string `mapstructure:"engine"`
	URL    string `mapstructure:"url"`
}

type TableConfig struct {
	Name string `mapstructure:"name"`
}

type DescribeConfig struct {
	SampleValues int `mapstructure:"sample_values"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SourceConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8001)
	v.SetDefault("store.engine", "duckdb")
	v.SetDefault("store.url", "")
	v.SetDefault("table.name", "transactions")
	v.SetDefault("describe.sample_values", 3)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("source.s3.endpoint", "")
	v.SetDefault("source.s3.region", "us-east-1")
	v.SetDefault("source.s3.access_key_id", "")
	v.SetDefault("source.s3.secret_access_key", "")
	v.SetDefault("source.s3.use_ssl", true)
	v.SetDefault("upload.max_bytes", int64(50<<20))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
}

// providerKeyEnv names the API key variable read for each provider when
// llm.api_key is not set.
var providerKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// BindEnv maps CSVSQL_<SECTION>_<KEY> variables onto config keys, along with
// the plain PORT and DATABASE_URL variables.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"server.port": {"CSVSQL_SERVER_PORT", "PORT"},
		"store.url":   {"CSVSQL_STORE_URL", "DATABASE_URL"},
		"llm.api_key": {"CSVSQL_LLM_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration with precedence flag > env > config file > default.
// Flags must already be bound to v. cfgFile may be empty, in which case
// csvsql.yaml is looked up next to the executable and in the working directory.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return Config{}, err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(ex))
		}
		v.AddConfigPath(".")
		v.SetConfigName("csvsql")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		if env, ok := providerKeyEnv[strings.ToLower(cfg.LLM.Provider)]; ok {
			cfg.LLM.APIKey = os.Getenv(env)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	switch strings.ToLower(c.Store.Engine) {
	case "duckdb", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.engine must be duckdb or sqlite, got %q", c.Store.Engine))
	}
	if strings.TrimSpace(c.Table.Name) == "" {
		errs = append(errs, errors.New("table.name is required"))
	}
	if c.Describe.SampleValues < 1 {
		errs = append(errs, fmt.Errorf("describe.sample_values must be at least 1, got %d", c.Describe.SampleValues))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be gemini or openai, got %q", c.LLM.Provider))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}

	return errors.Join(errs...)
}
