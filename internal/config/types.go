package config

import (
	"strconv"
	"strings"
	"time"
)

// EnvToken overrides telegram.token when set (e.g. from a .env file).
const EnvToken = "CHIMEBOT_TELEGRAM_TOKEN"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Chime    ChimeConfig    `json:"chime"`

	// Outputs maps a chat id (decimal, e.g. "-1001234") or "default" to the
	// player used for that chat.
	Outputs map[string]OutputConfig `json:"outputs,omitempty"`
	Storage *StorageConfig          `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CommandsPerMinute throttles commands per chat; 0 means 20.
	CommandsPerMinute int `json:"commands_per_minute,omitempty"`
}

// IsOwner reports whether id may run owner-only commands.
// With no owners configured everybody may.
func (t TelegramConfig) IsOwner(id int64) bool {
	if len(t.OwnerUserIDs) == 0 {
		return true
	}
	for _, o := range t.OwnerUserIDs {
		if o == id {
			return true
		}
	}
	return false
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ChimeConfig controls where chime audio lives and how hours are computed.
//
// Example:
//
//	"chime": { "audio_dir": "./audio", "timezone": "Asia/Tokyo" }
type ChimeConfig struct {
	AudioDir string `json:"audio_dir"`
	// Preamble is the file played before every hour announcement; default "時報.mp3".
	Preamble string `json:"preamble,omitempty"`
	// Timezone is an IANA name; empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
	// PollInterval is how often a busy output is re-checked (Go duration, default "500ms").
	PollInterval string `json:"poll_interval,omitempty"`
}

// OutputConfig selects the player for one chat. "{path}" and "{name}" in
// Command are replaced with the file being played; the stream is also on stdin.
type OutputConfig struct {
	Name    string   `json:"name,omitempty"`
	Command []string `json:"command,omitempty"`
}

// StorageConfig controls the chime history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/chimebot.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retention   string `json:"retention,omitempty"`
}

const (
	DefaultAudioDir          = "./audio"
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultPollTimeout       = 10 * time.Second
	DefaultCommandsPerMinute = 20
)

// AudioDir returns chime.audio_dir or its default.
func (c *Config) AudioDir() string {
	if d := strings.TrimSpace(c.Chime.AudioDir); d != "" {
		return d
	}
	return DefaultAudioDir
}

// Location resolves chime.timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Chime.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (c *Config) PollInterval() (time.Duration, error) {
	return ParseDurationOrDefault("chime.poll_interval", c.Chime.PollInterval, DefaultPollInterval)
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
}

func (c *Config) CommandsPerMinute() int {
	if c.Telegram.CommandsPerMinute > 0 {
		return c.Telegram.CommandsPerMinute
	}
	return DefaultCommandsPerMinute
}

func isOutputKey(k string) bool {
	if k == "default" {
		return true
	}
	_, err := strconv.ParseInt(k, 10, 64)
	return err == nil
}
