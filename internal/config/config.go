// Package config 加载服务配置
//
// 加载顺序：结构体default标签 -> YAML配置文件 -> 环境变量 -> 校验。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServiceType 服务类型
type ServiceType string

const (
	ServiceTypeAPIServer  ServiceType = "api-server"
	ServiceTypeCalcWorker ServiceType = "calc-worker"
)

// Config 全局配置
type Config struct {
	App         AppConfig         `yaml:"app"`
	APIServer   APIServerConfig   `yaml:"api_server"`
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	Queue       QueueConfig       `yaml:"queue"`
	Parser      ParserConfig      `yaml:"parser"`
	Calculation CalculationConfig `yaml:"calculation"`
	Log         LogConfig         `yaml:"log"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" env:"APP_NAME" default:"shebao"`
	Environment string `yaml:"environment" env:"APP_ENV" default:"development" validate:"oneof=development staging production test"`
	Debug       bool   `yaml:"debug" env:"APP_DEBUG" default:"false"`
}

// APIServerConfig API服务器配置
type APIServerConfig struct {
	Host          string        `yaml:"host" env:"API_HOST" default:"0.0.0.0"`
	Port          int           `yaml:"port" env:"API_PORT" default:"8080" validate:"min=1,max=65535"`
	Mode          string        `yaml:"mode" env:"GIN_MODE" default:"release" validate:"oneof=debug release test"`
	Timeout       time.Duration `yaml:"timeout" env:"API_TIMEOUT" default:"30s"`
	MaxUploadSize int64         `yaml:"max_upload_size" env:"API_MAX_UPLOAD_SIZE" default:"10485760" validate:"gt=0"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"POSTGRES_HOST" default:"localhost" validate:"required"`
	Port            int           `yaml:"port" env:"POSTGRES_PORT" default:"5432" validate:"min=1,max=65535"`
	Database        string        `yaml:"database" env:"POSTGRES_DB" default:"shebao" validate:"required"`
	Username        string        `yaml:"username" env:"POSTGRES_USER" default:"postgres" validate:"required"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD" default:""`
	SSLMode         string        `yaml:"ssl_mode" env:"POSTGRES_SSLMODE" default:"disable"`
	Schema          string        `yaml:"schema" env:"POSTGRES_SCHEMA" default:"shebao"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"POSTGRES_CONN_MAX_IDLE_TIME" default:"5m"`
	BatchSize       int           `yaml:"batch_size" env:"POSTGRES_BATCH_SIZE" default:"100" validate:"gt=0"`
}

// StorageConfig 对象存储配置，用于归档上传的原始文件
type StorageConfig struct {
	Enabled         bool   `yaml:"enabled" env:"MINIO_ENABLED" default:"false"`
	Endpoint        string `yaml:"endpoint" env:"MINIO_ENDPOINT" default:"localhost:9000" validate:"required_if=Enabled true"`
	AccessKeyID     string `yaml:"access_key_id" env:"MINIO_ACCESS_KEY_ID" default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"MINIO_SECRET_ACCESS_KEY" default:"minioadmin"`
	UseSSL          bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" default:"false"`
	BucketName      string `yaml:"bucket_name" env:"MINIO_BUCKET_NAME" default:"shebao" validate:"required_if=Enabled true"`
	Region          string `yaml:"region" env:"MINIO_REGION" default:"us-east-1"`
}

// QueueConfig Redis队列配置
type QueueConfig struct {
	Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED" default:"false"`
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD" default:""`
	DB       int           `yaml:"db" env:"REDIS_DB" default:"0" validate:"min=0"`
	JobTTL   time.Duration `yaml:"job_ttl" env:"REDIS_JOB_TTL" default:"24h"`
}

// ParserConfig Excel解析配置
type ParserConfig struct {
	// SheetName 为空时读取第一个工作表
	SheetName     string `yaml:"sheet_name" env:"PARSER_SHEET_NAME" default:""`
	StrictMode    bool   `yaml:"strict_mode" env:"PARSER_STRICT_MODE" default:"true"`
	SkipEmptyRows bool   `yaml:"skip_empty_rows" env:"PARSER_SKIP_EMPTY_ROWS" default:"true"`
	MaxRows       int    `yaml:"max_rows" env:"PARSER_MAX_ROWS" default:"0" validate:"min=0"`
}

// CalculationConfig 计算配置
type CalculationConfig struct {
	City string `yaml:"city" env:"CALC_CITY" default:"佛山" validate:"required"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"" validate:"omitempty,oneof=json text"`
}

// WorkerConfig 异步计算Worker配置
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL" default:"2s"`
	BlockTimeout time.Duration `yaml:"block_timeout" env:"WORKER_BLOCK_TIMEOUT" default:"5s"`
}

// LoadConfig 从指定路径加载配置，文件不存在时仅使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("设置默认配置失败: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 没有配置文件时继续使用默认值
		default:
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigForService 加载指定服务的配置，并补充服务自身的约束
func LoadConfigForService(service ServiceType, path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	switch service {
	case ServiceTypeCalcWorker:
		if !cfg.Queue.Enabled {
			return nil, fmt.Errorf("%s 需要启用 queue.enabled", service)
		}
	case ServiceTypeAPIServer:
	default:
		return nil, fmt.Errorf("未知的服务类型: %s", service)
	}
	return cfg, nil
}

// Validate 校验配置
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}
