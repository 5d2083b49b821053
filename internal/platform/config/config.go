// Package config loads the ACP provider core's own runtime configuration.
//
// The higher-level application owns agent definitions, enable flags, and
// per-conversation workdir overrides (see spec §1 Out of scope); this
// package only covers what the core itself needs to start up: where its
// session-binding database lives, what the default workspace root is, and
// how long to wait on handshakes and terminations.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the ACP provider core's own settings.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Process   ProcessConfig   `mapstructure:"process"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WorkspaceConfig controls where default per-conversation workdirs and the
// session-persistence database live.
type WorkspaceConfig struct {
	// Root is the application-chosen directory under which defaulted workdirs
	// are materialized as Root/<conversationId>/.
	Root string `mapstructure:"root"`
	// DatabasePath is the SQLite file backing SessionPersistence.
	DatabasePath string `mapstructure:"databasePath"`
}

// ProcessConfig controls ProcessManager timeouts.
type ProcessConfig struct {
	// HandshakeTimeoutSeconds bounds the ACP initialize exchange.
	HandshakeTimeoutSeconds int `mapstructure:"handshakeTimeoutSeconds"`
	// TerminationGraceSeconds bounds how long release() waits after a
	// graceful signal before force-killing the child.
	TerminationGraceSeconds int `mapstructure:"terminationGraceSeconds"`
	// StderrBufferLines bounds the diagnostic ring buffer kept per process.
	StderrBufferLines int `mapstructure:"stderrBufferLines"`
}

// HandshakeTimeout returns the handshake bound as a time.Duration.
func (p ProcessConfig) HandshakeTimeout() time.Duration {
	return time.Duration(p.HandshakeTimeoutSeconds) * time.Second
}

// TerminationGrace returns the termination grace period as a time.Duration.
func (p ProcessConfig) TerminationGrace() time.Duration {
	return time.Duration(p.TerminationGraceSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("workspace.root", "~/.deepchat/acp-workspaces")
	v.SetDefault("workspace.databasePath", "~/.deepchat/acp-sessions.db")

	v.SetDefault("process.handshakeTimeoutSeconds", 5)
	v.SetDefault("process.terminationGraceSeconds", 2)
	v.SetDefault("process.stderrBufferLines", 50)
}

// Load reads configuration from ACPCORE_-prefixed environment variables,
// layered over defaults. Nested keys use "_" as the env-var separator,
// e.g. ACPCORE_WORKSPACE_ROOT, ACPCORE_PROCESS_HANDSHAKETIMEOUTSECONDS.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACPCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
