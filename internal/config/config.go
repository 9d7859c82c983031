package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the API.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	S3       S3Config       `mapstructure:"s3"`
	History  HistoryConfig  `mapstructure:"history"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Model    ModelConfig    `mapstructure:"model"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
	MaxImagePixels  int64         `mapstructure:"max_image_pixels"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	Provider        string `mapstructure:"provider"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	JWTAudience     string `mapstructure:"jwt_audience"`
}

type StorageConfig struct {
	Backend         string `mapstructure:"backend"`
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

type HistoryConfig struct {
	Backend         string        `mapstructure:"backend"`
	Collection      string        `mapstructure:"collection"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig configures the optional history cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ModelConfig struct {
	Backend       string  `mapstructure:"backend"`
	Path          string  `mapstructure:"path"`
	Bucket        string  `mapstructure:"bucket"`
	ObjectKey     string  `mapstructure:"object_key"`
	LabelsPath    string  `mapstructure:"labels_path"`
	Threshold     float64 `mapstructure:"threshold"`
	ONNXLibrary   string  `mapstructure:"onnx_library"`
	InputName     string  `mapstructure:"input_name"`
	OutputName    string  `mapstructure:"output_name"`
	InferenceAddr string  `mapstructure:"inference_addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_upload_size", 10<<20)
	v.SetDefault("http.max_image_pixels", 25_000_000)
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("auth.provider", "firebase")
	v.SetDefault("auth.project_id", "")
	v.SetDefault("auth.credentials_file", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")

	v.SetDefault("storage.backend", "gcs")
	v.SetDefault("storage.bucket", "images_from_predict")
	v.SetDefault("storage.credentials_file", "")

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.public_base_url", "")

	v.SetDefault("history.backend", "firestore")
	v.SetDefault("history.collection", "history")
	v.SetDefault("history.project_id", "")
	v.SetDefault("history.credentials_file", "")
	v.SetDefault("history.cache_ttl", 5*time.Minute)

	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=hijaiyah port=5432 sslmode=disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("model.backend", "onnx")
	v.SetDefault("model.path", "model/model_mm9_v2.onnx")
	v.SetDefault("model.bucket", "")
	v.SetDefault("model.object_key", "")
	v.SetDefault("model.labels_path", "")
	v.SetDefault("model.threshold", 0.5)
	v.SetDefault("model.onnx_library", "")
	v.SetDefault("model.input_name", "input_1")
	v.SetDefault("model.output_name", "dense")
	v.SetDefault("model.inference_addr", "inference:50051")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads defaults, an optional config file and the environment, in that
// order of precedence. Nested keys map to env vars with dots replaced by
// underscores (model.threshold -> MODEL_THRESHOLD).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enum fields and numeric ranges.
func (c *Config) Validate() error {
	if err := oneOf("auth.provider", c.Auth.Provider, "firebase", "jwt"); err != nil {
		return err
	}
	if err := oneOf("storage.backend", c.Storage.Backend, "gcs", "s3"); err != nil {
		return err
	}
	if err := oneOf("history.backend", c.History.Backend, "firestore", "postgres"); err != nil {
		return err
	}
	if err := oneOf("model.backend", c.Model.Backend, "onnx", "grpc"); err != nil {
		return err
	}
	if c.Model.Threshold < 0 || c.Model.Threshold > 1 {
		return fmt.Errorf("model.threshold must be within [0,1], got %v", c.Model.Threshold)
	}
	if c.Auth.Provider == "jwt" && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.provider is jwt")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.HTTP.MaxUploadSize <= 0 {
		return fmt.Errorf("http.max_upload_size must be positive")
	}
	if c.HTTP.MaxImagePixels <= 0 {
		return fmt.Errorf("http.max_image_pixels must be positive")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}
