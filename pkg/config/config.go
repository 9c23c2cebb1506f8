// Package config provides engine settings and configuration file watching
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/poltergeist/summon/pkg/types"
)

// Setting keys
const (
	KeyRestartOnTrigger       = "restartOnTrigger"
	KeyTickInterval           = "tickInterval"
	KeyStopGracePeriod        = "stopGracePeriod"
	KeyNotificationsEnabled   = "notifications.enabled"
	KeyNotificationsOnRefresh = "notifications.onRefresh"
	KeyLoggingLevel           = "logging.level"
	KeyLoggingFile            = "logging.file"
	KeyHomeDir                = "homeDir"
)

// SettingsFileName is the base name of the optional settings file in the project root
const SettingsFileName = "summon"

// EnvPrefix prefixes environment overrides, e.g. SUMMON_TICKINTERVAL
const EnvPrefix = "SUMMON"

// Settings configures the build engine and its subscribers
type Settings struct {
	// RestartOnTrigger makes a trigger during a running build kill it and start over.
	// When false such triggers are ignored.
	RestartOnTrigger bool `mapstructure:"restartOnTrigger"`
	// TickInterval is the elapsed-time event period
	TickInterval time.Duration `mapstructure:"tickInterval"`
	// StopGracePeriod force-kills a stopped build that has not exited in time. 0 disables it.
	StopGracePeriod time.Duration        `mapstructure:"stopGracePeriod"`
	Notifications   NotificationSettings `mapstructure:"notifications"`
	Logging         LoggingSettings      `mapstructure:"logging"`
	// HomeDir is the fallback location scanned for target configuration
	HomeDir string `mapstructure:"homeDir"`
}

// NotificationSettings controls desktop notifications
type NotificationSettings struct {
	Enabled   bool `mapstructure:"enabled"`
	OnRefresh bool `mapstructure:"onRefresh"`
}

// LoggingSettings controls the engine logger
type LoggingSettings struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	home, _ := os.UserHomeDir()
	return Settings{
		TickInterval: 100 * time.Millisecond,
		Logging: LoggingSettings{
			Level: "info",
		},
		HomeDir: home,
	}
}

// SetDefaults registers DefaultSettings on v
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault(KeyRestartOnTrigger, d.RestartOnTrigger)
	v.SetDefault(KeyTickInterval, d.TickInterval)
	v.SetDefault(KeyStopGracePeriod, d.StopGracePeriod)
	v.SetDefault(KeyNotificationsEnabled, d.Notifications.Enabled)
	v.SetDefault(KeyNotificationsOnRefresh, d.Notifications.OnRefresh)
	v.SetDefault(KeyLoggingLevel, d.Logging.Level)
	v.SetDefault(KeyLoggingFile, d.Logging.File)
	v.SetDefault(KeyHomeDir, d.HomeDir)
}

// Load reads settings into v and decodes them. Precedence is flags bound
// to v, then SUMMON_* environment, then the settings file, then defaults.
// Without an explicit configFile a missing summon.{json,yaml} in
// projectRoot is not an error. The returned path is the file used, if any.
func Load(v *viper.Viper, projectRoot, configFile string) (*Settings, string, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(projectRoot)
		v.SetConfigName(SettingsFileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, "", fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, "", err
	}
	return &s, v.ConfigFileUsed(), nil
}

// Validate checks value ranges
func (s *Settings) Validate() error {
	if s.TickInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyTickInterval, s.TickInterval)
	}
	if s.StopGracePeriod < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyStopGracePeriod, s.StopGracePeriod)
	}
	if _, err := types.ParseLogLevel(s.Logging.Level); err != nil {
		return fmt.Errorf("invalid %s: %w", KeyLoggingLevel, err)
	}
	return nil
}
