// Package chatbot holds process-wide defaults shared by the config, storage and
// generation packages.
package chatbot

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAppName = "chatbot"

	DefaultListenAddr   = ":5000"
	DefaultStreamPacing = 20 * time.Millisecond

	DefaultSystemPrompt     = "You are a helpful assistant. Answer all questions to the best of your ability."
	DefaultMaxHistoryTokens = 1000

	DefaultLLMProvider = "openai"
	DefaultLLMModel    = "gpt-3.5-turbo-0125"
	DefaultLLMBaseURL  = "https://api.openai.com/v1"

	DefaultHistoryBackend = "memory"
)

var (
	// DefaultConfigPath is the per-user configuration directory.
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)

	// DefaultDatabaseDir holds the embedded libsql database when the durable history backend is used.
	DefaultDatabaseDir = filepath.Join(userDataDir(), DefaultAppName)

	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, "history.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
