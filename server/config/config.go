package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strings"
	"time"

	"battlecore/utils"

	"github.com/joho/godotenv"
)

// Config はサーバープロセスの設定です。値は環境変数と .env から読みます。
type Config struct {
	Addr         string
	Port         string
	BattleFile   string
	RobotSecret  string
	LogLevel     slog.Level
	OTLPEndpoint string
	TurnInterval time.Duration
}

// ListenAddr は待ち受けアドレスです。
func (c Config) ListenAddr() string { return net.JoinHostPort(c.Addr, c.Port) }

// Load は envFiles (省略時は .env) を読み込んでから環境変数を解釈します。
// ファイルがなくてもエラーにはしません。既に設定された環境変数が優先されます。
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	level, err := parseLevel(utils.GetEnvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	return Config{
		Addr:         utils.GetEnvDefault("ADDR", "localhost"),
		Port:         utils.GetEnvDefault("PORT", "9090"),
		BattleFile:   utils.GetEnvDefault("BATTLE_FILE", ""),
		RobotSecret:  utils.GetEnvDefault("ROBOT_SECRET", ""),
		LogLevel:     level,
		OTLPEndpoint: utils.GetEnvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TurnInterval: utils.GetEnvDuration("TURN_INTERVAL", 0),
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
