// Package logger は全サービス共通の構造化ロガーを生成する。
//
// zapを使用し、標準エラー出力へのJSON（またはコンソール形式）出力と、
// 必要に応じてlumberjackによるローテーション付きファイル出力を行う。
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config はロガーの設定。
type Config struct {
	// Level は出力する最小のログレベル（debug, info, warn, error）。
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	// Format は出力形式（json, console）。
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	// File はログファイルのパス。空ならファイルに出力しない。
	File string `mapstructure:"file"`
	// MaxSizeMB はローテーションするファイルサイズ（MB）。
	MaxSizeMB int `mapstructure:"max_size_mb" validate:"gte=0"`
	// MaxBackups は保持する古いファイルの数。
	MaxBackups int `mapstructure:"max_backups" validate:"gte=0"`
	// MaxAgeDays は古いファイルを保持する日数。
	MaxAgeDays int `mapstructure:"max_age_days" validate:"gte=0"`
}

// New は設定に従ってロガーを生成する。serviceはすべてのログに付与される。
func New(cfg Config, service string) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()).With(zap.String("service", service)), nil
}

// parseLevel はログレベル文字列を変換する。空文字列はinfoとして扱う。
func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, fmt.Errorf("ログレベルが不正です: %q: %w", s, err)
	}
	return level, nil
}
