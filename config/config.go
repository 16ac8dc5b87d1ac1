// Package config loads the service configuration from YAML with environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v2"

	gwhttp "gwpotential/http"
	"gwpotential/pipeline"
	"gwpotential/training"
)

// Config 全部配置
type Config struct {
	Log       LogConfig           `yaml:"log"`
	Dataset   DatasetConfig       `yaml:"dataset"`
	Artifacts ArtifactConfig      `yaml:"artifacts"`
	Training  training.Config     `yaml:"training"`
	HTTP      gwhttp.ServerConfig `yaml:"http"`
	Database  DatabaseConfig      `yaml:"database"`
}

// LogConfig 日志配置；File 为空时只写 stderr
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DatasetConfig 训练数据集
type DatasetConfig struct {
	Path                 string `yaml:"path"`
	pipeline.ReadOptions `yaml:",inline"`
}

// ArtifactConfig 模型文件目录
type ArtifactConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// DatabaseConfig SQLite 路径；为空时不记录预测
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Dataset:   DatasetConfig{Path: "data/groundwater.csv"},
		Artifacts: ArtifactConfig{Dir: "artifacts", Watch: true},
		Training:  training.DefaultConfig(),
		HTTP:      gwhttp.DefaultServerConfig(),
		Database:  DatabaseConfig{Path: "data/gwpotential.db"},
	}
}

// Load 读取 YAML 文件（可缺省），再应用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.UnmarshalStrict(data, cfg); err != nil {
				return nil, eris.Wrapf(err, "config: parse %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, eris.Wrapf(err, "config: read %s", path)
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

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GW_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("GW_LOG_FILE"); ok {
		c.Log.File = v
	}
	if v, ok := lookup("GW_HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return eris.Wrapf(err, "config: GW_HTTP_PORT %q", v)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup("GW_ARTIFACT_DIR"); ok {
		c.Artifacts.Dir = v
	}
	if v, ok := lookup("GW_DATABASE_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := lookup("GW_DATASET_PATH"); ok {
		c.Dataset.Path = v
	}
	if v, ok := lookup("GW_ALLOWED_ORIGINS"); ok {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate 检查配置
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return eris.Wrapf(err, "config: log.level")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return eris.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Artifacts.Dir == "" {
		return eris.New("config: artifacts.dir is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return eris.Errorf("config: http.port out of range: %d", c.HTTP.Port)
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return eris.Errorf("config: http.max_upload_bytes must be positive, got %d", c.HTTP.MaxUploadBytes)
	}
	if len([]rune(c.Dataset.Delimiter)) > 1 {
		return eris.Errorf("config: dataset.delimiter must be a single character, got %q", c.Dataset.Delimiter)
	}
	return eris.Wrap(c.Training.Validate(), "config: training")
}

// InitLogger 初始化全局 zap logger；配置了文件时按大小轮转
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}

	var encCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	zap.ReplaceGlobals(logger)
	return logger, nil
}
