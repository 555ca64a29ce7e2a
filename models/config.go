package models

import "time"

// Config is the full application configuration, decoded from viper.
type Config struct {
	BotToken  string          `mapstructure:"BOT_TOKEN"`
	Bot       BotConfig       `mapstructure:"bot"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Web       WebConfig       `mapstructure:"web"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Log       LogConfig       `mapstructure:"log"`
	Commands  CommandsConfig  `mapstructure:"commands"`
}

// BotConfig holds the chat adapter settings.
type BotConfig struct {
	ChannelIDs     []string `mapstructure:"channelIds"`
	AdminChannelID string   `mapstructure:"adminChannelId"`
	ScanAtStartup  bool     `mapstructure:"scanAtStartup"`
}

// ExtractorConfig configures the gallery-dl subprocess.
type ExtractorConfig struct {
	Command           string        `mapstructure:"command"`
	CookiesFile       string        `mapstructure:"cookiesFile"`
	PixivRefreshToken string        `mapstructure:"pixivRefreshToken"`
	MetadataTimeout   time.Duration `mapstructure:"metadataTimeout"`
	DownloadTimeout   time.Duration `mapstructure:"downloadTimeout"`
	CollectionTimeout time.Duration `mapstructure:"collectionTimeout"`
	Retries           int           `mapstructure:"retries"`
	// MinInterval is the minimum spacing between two tool invocations.
	MinInterval time.Duration `mapstructure:"minInterval"`
}

// StorageConfig points at the media root and the sqlite file.
type StorageConfig struct {
	SavePath string `mapstructure:"savePath"`
	DBPath   string `mapstructure:"dbPath"`
}

// ResolverConfig bounds thread traversal.
type ResolverConfig struct {
	MaxDepth       int  `mapstructure:"maxDepth"`
	SameAuthorOnly bool `mapstructure:"sameAuthorOnly"`
}

// QueueConfig sets the drain cadence shared by the retry and direct queues.
type QueueConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// ScanConfig controls the periodic backlog re-scan. Interval 0 disables it.
type ScanConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Limit    int           `mapstructure:"limit"`
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	Listen         string        `mapstructure:"listen"`
	AuthToken      string        `mapstructure:"authToken"`
	MaxConnections int           `mapstructure:"maxConnections"`
	SyncInterval   time.Duration `mapstructure:"syncInterval"`
}

// GRPCConfig configures the snapshot push service. Empty Listen disables it.
type GRPCConfig struct {
	Listen string `mapstructure:"listen"`
}

// LogConfig sets the console log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CommandsConfig holds slash command permission settings.
type CommandsConfig struct {
	Auth AuthConfig `json:"auth" mapstructure:"auth"`
}

// AuthConfig lists who may run privileged commands.
type AuthConfig struct {
	Developers  []string `json:"developers" mapstructure:"developers"`
	AdminsRoles []string `json:"admins_roles" mapstructure:"admins_roles"`
	Guest       []string `json:"guest" mapstructure:"guest"`
}
