// Package config holds the two configuration layers: immutable bootstrap
// config read once at process start, and runtime listener settings read from
// the settings store on every supervisor (re)start.
package config

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the bootstrap configuration: everything needed before the store
// is open. Values come from defaults, an optional config file and SECWATCH_*
// environment variables, in increasing precedence.
type Config struct {
	DatabasePath string `mapstructure:"database_path"`
	HTTPAddr     string `mapstructure:"http_addr"`
	LogLevel     string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
}

func Defaults() Config {
	return Config{
		DatabasePath: "secwatch.db",
		HTTPAddr:     ":8080",
		LogLevel:     "info",
		LogFile:      "",
	}
}

// Load reads the bootstrap configuration. A missing config file is fine;
// unreadable values fall back to the defaults.
func Load(cfgFile string) (Config, error) {
	v := viper.New()

	defaults := Defaults()
	v.SetDefault("database_path", defaults.DatabasePath)
	v.SetDefault("http_addr", defaults.HTTPAddr)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_file", defaults.LogFile)

	v.SetEnvPrefix("SECWATCH")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("secwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return defaults, err
		}
	}

	cfg := defaults
	if err := v.Unmarshal(&cfg); err != nil {
		return defaults, err
	}
	return cfg, nil
}

// InitLogging configures the global logrus logger from the bootstrap
// config. With a log file set, output rotates through lumberjack.
func InitLogging(cfg Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.LogFile != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
}

// Settings-store keys for the listener configuration.
const (
	SettingTCPPort    = "syslog.tcp_port"
	SettingUDPPort    = "syslog.udp_port"
	SettingTCPEnabled = "syslog.tcp_enabled"
	SettingUDPEnabled = "syslog.udp_enabled"
)

// ListenerSettingKeys lists every settings-store key the supervisor reads.
var ListenerSettingKeys = []string{
	SettingTCPPort, SettingUDPPort, SettingTCPEnabled, SettingUDPEnabled,
}

// ListenerSettings is the runtime listener configuration.
type ListenerSettings struct {
	TCPPort    int
	UDPPort    int
	TCPEnabled bool
	UDPEnabled bool
}

func DefaultListenerSettings() ListenerSettings {
	return ListenerSettings{
		TCPPort:    514,
		UDPPort:    514,
		TCPEnabled: true,
		UDPEnabled: true,
	}
}

// ListenerSettingsFrom merges string-encoded settings-store values over the
// defaults. Coercion happens here, once: a value that does not parse leaves
// the default in place rather than failing the start.
func ListenerSettingsFrom(values map[string]string) ListenerSettings {
	s := DefaultListenerSettings()
	s.TCPPort = coerceInt(values[SettingTCPPort], s.TCPPort)
	s.UDPPort = coerceInt(values[SettingUDPPort], s.UDPPort)
	s.TCPEnabled = coerceBool(values[SettingTCPEnabled], s.TCPEnabled)
	s.UDPEnabled = coerceBool(values[SettingUDPEnabled], s.UDPEnabled)
	return s
}

func coerceInt(value string, fallback int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 || n > 65535 {
		return fallback
	}
	return n
}

func coerceBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "t", "1", "yes", "on", "enabled":
		return true
	case "false", "f", "0", "no", "off", "disabled":
		return false
	default:
		return fallback
	}
}
