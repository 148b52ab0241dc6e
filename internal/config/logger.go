package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger 初始化全局 logrus 日志
func InitLogger(cfg *Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Warnf("Invalid log level '%s', using 'info'", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(cfg.Log.Format))

	out, err := newOutput(cfg.Log)
	if err != nil {
		return err
	}
	logrus.SetOutput(out)

	logrus.Infof("Logger initialized - Level: %s, Format: %s, Output: %s",
		cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	return nil
}

func newFormatter(format string) logrus.Formatter {
	if strings.ToLower(format) == "text" {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	}
	return &logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"}
}

func newOutput(lc LogConfig) (io.Writer, error) {
	mode := strings.ToLower(lc.Output)
	if mode != "file" && mode != "both" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(lc.FilePath), 0755); err != nil {
		return nil, err
	}
	rotate := &lumberjack.Logger{
		Filename:   lc.FilePath,
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAge,
		Compress:   lc.Compress,
		LocalTime:  true,
	}
	if mode == "file" {
		return rotate, nil
	}
	return io.MultiWriter(os.Stdout, rotate), nil
}
