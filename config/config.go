package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/spf13/viper"

	"x-keeper/models"
)

// Load reads configuration from the working directory. See LoadFrom.
func Load() (*models.Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads configuration from several sources, later ones winning:
//  1. .env in dir (environment variables)
//  2. config.yaml in dir
//  3. config/commands.json in dir (merged)
//  4. environment variables, with "." in keys replaced by "_"
func LoadFrom(dir string) (*models.Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil {
		log.Debug().Msg("no .env file found, skipping")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to parse config.yaml: %w", err)
		}
		log.Info().Msg("no config.yaml found, using environment variables and defaults")
	}

	v.SetConfigName("commands")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(dir, "config"))
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to merge config/commands.json: %w", err)
		}
		log.Debug().Msg("no config/commands.json found, skipping merge")
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.BotToken = v.GetString("BOT_TOKEN")
	cfg.Bot.ChannelIDs = splitList(cfg.Bot.ChannelIDs)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.channelIds", []string{})
	v.SetDefault("bot.adminChannelId", "")
	v.SetDefault("bot.scanAtStartup", false)

	v.SetDefault("extractor.command", "gallery-dl")
	v.SetDefault("extractor.cookiesFile", "")
	v.SetDefault("extractor.pixivRefreshToken", "")
	v.SetDefault("extractor.metadataTimeout", 30*time.Second)
	v.SetDefault("extractor.downloadTimeout", 300*time.Second)
	v.SetDefault("extractor.collectionTimeout", 2*time.Hour)
	v.SetDefault("extractor.retries", 3)
	v.SetDefault("extractor.minInterval", time.Duration(0))

	v.SetDefault("storage.savePath", "./downloads")
	v.SetDefault("storage.dbPath", "./data/x-keeper.db")

	v.SetDefault("resolver.maxDepth", 50)
	v.SetDefault("resolver.sameAuthorOnly", true)

	v.SetDefault("queue.pollInterval", 5*time.Minute)

	v.SetDefault("scan.interval", time.Duration(0))
	v.SetDefault("scan.limit", 100)

	v.SetDefault("web.listen", ":8080")
	v.SetDefault("web.authToken", "")
	v.SetDefault("web.maxConnections", 256)
	v.SetDefault("web.syncInterval", 5*time.Second)

	v.SetDefault("grpc.listen", "")
	v.SetDefault("log.level", "info")
}

// splitList accepts both a YAML list and a comma separated environment value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg *models.Config) error {
	if cfg.Storage.SavePath == "" {
		return errors.New("storage.savePath must be set")
	}
	if cfg.Resolver.MaxDepth <= 0 {
		return fmt.Errorf("resolver.maxDepth must be positive, got %d", cfg.Resolver.MaxDepth)
	}
	if cfg.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.pollInterval must be positive, got %s", cfg.Queue.PollInterval)
	}
	if cfg.Web.SyncInterval <= 0 {
		return fmt.Errorf("web.syncInterval must be positive, got %s", cfg.Web.SyncInterval)
	}
	return nil
}
