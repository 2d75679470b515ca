// Package logger 提供全局logrus日志实例
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/freedkr/shebao/internal/config"
)

// Log 全局日志实例
var Log = logrus.New()

// Init 根据配置初始化全局日志
func Init(cfg *config.Config) {
	Configure(Log, cfg.Log, cfg.App.Environment, os.Stdout)
}

// Configure 按日志配置设置级别和格式。
// 未显式指定格式时，生产和预发环境输出JSON，其余环境输出文本。
func Configure(l *logrus.Logger, cfg config.LogConfig, environment string, out io.Writer) {
	l.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		l.Warnf("无效的日志级别 '%s'，使用 info", cfg.Level)
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	format := strings.ToLower(cfg.Format)
	if format == "" {
		env := strings.ToLower(environment)
		if env == "production" || env == "staging" {
			format = "json"
		} else {
			format = "text"
		}
	}

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

// WithComponent 返回带组件字段的日志条目
func WithComponent(component string) *logrus.Entry {
	return Log.WithField("component", component)
}
