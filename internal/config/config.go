// Package config loads BarSight settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for settings that cannot work.
var ErrInvalid = errors.New("invalid configuration")

// Detector backends.
const (
	BackendONNX = "onnx"
	BackendGRPC = "grpc"
)

// Pipeline image sources.
const (
	SourceLocal = "local"
	SourceS3    = "s3"
)

// Config is the root configuration document.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Detector DetectorConfig `yaml:"detector"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	S3       S3Config       `yaml:"s3"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	ResultTTL time.Duration `yaml:"result_ttl"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

// DetectorConfig selects and tunes the YOLO detector.
type DetectorConfig struct {
	Backend    string        `yaml:"backend"`
	ModelPath  string        `yaml:"model_path"`
	GRPCAddr   string        `yaml:"grpc_addr"`
	Timeout    time.Duration `yaml:"timeout"`
	Confidence float32       `yaml:"confidence"`
	IoU        float32       `yaml:"iou"`
	ImageSize  int           `yaml:"image_size"`
	Classes    []string      `yaml:"classes"`
}

// DecoderConfig controls the crop geometry and the decoder fallback order.
type DecoderConfig struct {
	Order             []string `yaml:"order"`
	ZbarPath          string   `yaml:"zbar_path"`
	Padding           int      `yaml:"padding"`
	ResizeFactor      float64  `yaml:"resize_factor"`
	FullImageFallback bool     `yaml:"full_image_fallback"`
}

// PipelineConfig holds the batch ETL directories and retry policy.
type PipelineConfig struct {
	Source        string        `yaml:"source"`
	InputDir      string        `yaml:"input_dir"`
	RawDir        string        `yaml:"raw_dir"`
	OutputDir     string        `yaml:"output_dir"`
	ResultsCSV    string        `yaml:"results_csv"`
	Workers       int           `yaml:"workers"`
	Retries       int           `yaml:"retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			DSN:          "host=postgres user=barsight password=barsight dbname=barsight port=5432 sslmode=disable",
			MaxIdleConns: 5,
			MaxOpenConns: 10,
			ConnLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:      "redis:6379",
			ResultTTL: 5 * time.Minute,
		},
		Detector: DetectorConfig{
			Backend:    BackendONNX,
			ModelPath:  "models/best.onnx",
			Timeout:    30 * time.Second,
			Confidence: 0.4,
			IoU:        0.45,
			ImageSize:  960,
			Classes:    []string{"barcode", "qr"},
		},
		Decoder: DecoderConfig{
			Order:             []string{"zxing", "zbar"},
			ZbarPath:          "zbarimg",
			Padding:           20,
			ResizeFactor:      2.5,
			FullImageFallback: true,
		},
		Pipeline: PipelineConfig{
			Source:        SourceLocal,
			InputDir:      "data/input_images",
			RawDir:        "data/raw_images",
			OutputDir:     "data/output",
			ResultsCSV:    "data/decoded_results.csv",
			Workers:       4,
			Retries:       1,
			RetryDelay:    5 * time.Minute,
			WatchDebounce: 2 * time.Second,
		},
		S3: S3Config{
			Region: "us-east-1",
			Secure: true,
		},
	}
}

// Load reads a YAML file on top of the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("HTTP_ADDR", &c.Server.Addr)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("JWT_AUDIENCE", &c.Auth.JWTAudience)
	str("DETECTOR_BACKEND", &c.Detector.Backend)
	str("MODEL_PATH", &c.Detector.ModelPath)
	str("DETECTOR_GRPC_ADDR", &c.Detector.GRPCAddr)
	str("ZBAR_PATH", &c.Decoder.ZbarPath)
	str("PIPELINE_SOURCE", &c.Pipeline.Source)
	str("INPUT_DIR", &c.Pipeline.InputDir)
	str("RAW_DIR", &c.Pipeline.RawDir)
	str("OUTPUT_DIR", &c.Pipeline.OutputDir)
	str("OUTPUT_CSV", &c.Pipeline.ResultsCSV)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("S3_ACCESS_KEY", &c.S3.AccessKey)
	str("S3_SECRET_KEY", &c.S3.SecretKey)
	str("S3_BUCKET", &c.S3.Bucket)
	str("S3_PREFIX", &c.S3.Prefix)
	str("S3_REGION", &c.S3.Region)

	if v, ok := lookup("DECODER_ORDER"); ok && v != "" {
		c.Decoder.Order = splitList(v)
	}
	if v, ok := lookup("S3_SECURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: S3_SECURE: %v", ErrInvalid, err)
		}
		c.S3.Secure = b
	}
	if v, ok := lookup("PIPELINE_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PIPELINE_WORKERS: %v", ErrInvalid, err)
		}
		c.Pipeline.Workers = n
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// Validate reports settings that cannot produce a working service.
func (c *Config) Validate() error {
	var problems []string
	if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
		problems = append(problems, "detector.confidence must be in (0,1]")
	}
	if c.Detector.IoU <= 0 || c.Detector.IoU > 1 {
		problems = append(problems, "detector.iou must be in (0,1]")
	}
	if c.Detector.ImageSize <= 0 || c.Detector.ImageSize%32 != 0 {
		problems = append(problems, "detector.image_size must be a positive multiple of 32")
	}
	if len(c.Detector.Classes) == 0 {
		problems = append(problems, "detector.classes must not be empty")
	}
	switch c.Detector.Backend {
	case BackendONNX:
		if c.Detector.ModelPath == "" {
			problems = append(problems, "detector.model_path is required for the onnx backend")
		}
	case BackendGRPC:
		if c.Detector.GRPCAddr == "" {
			problems = append(problems, "detector.grpc_addr is required for the grpc backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown detector.backend %q", c.Detector.Backend))
	}

	if len(c.Decoder.Order) == 0 {
		problems = append(problems, "decoder.order must name at least one decoder")
	}
	seen := map[string]bool{}
	for _, name := range c.Decoder.Order {
		if name != "zxing" && name != "zbar" {
			problems = append(problems, fmt.Sprintf("unknown decoder %q", name))
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("decoder %q listed twice", name))
		}
		seen[name] = true
	}
	if c.Decoder.Padding < 0 {
		problems = append(problems, "decoder.padding must not be negative")
	}
	if c.Decoder.ResizeFactor <= 0 {
		problems = append(problems, "decoder.resize_factor must be positive")
	}

	switch c.Pipeline.Source {
	case SourceLocal:
	case SourceS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			problems = append(problems, "s3.endpoint and s3.bucket are required for the s3 source")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown pipeline.source %q", c.Pipeline.Source))
	}
	if c.Pipeline.Workers <= 0 {
		problems = append(problems, "pipeline.workers must be positive")
	}
	if c.Pipeline.Retries < 0 {
		problems = append(problems, "pipeline.retries must not be negative")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Server.MaxUploadBytes <= 0 {
		problems = append(problems, "server.max_upload_bytes must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
