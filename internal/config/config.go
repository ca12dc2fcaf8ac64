package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"household-reminders/internal/model"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken  string        `env:"BOT_TOKEN" env-required:"true"`
	DatabaseURL    string        `env:"DATABASE_PATH" env-default:"reminders.db"`
	Timezone       string        `env:"TIMEZONE" env-default:"Asia/Ho_Chi_Minh"`
	TemplatesPath  string        `env:"TEMPLATES_PATH" env-default:"templates.yml"`
	DailyRunAt     string        `env:"DAILY_RUN_AT" env-default:"00:01"`
	SnoozeInterval time.Duration `env:"SNOOZE_INTERVAL" env-default:"30m"`
	RetentionDays  int           `env:"RETENTION_DAYS" env-default:"7"`
	LogDevelopment bool          `env:"LOG_DEVELOPMENT" env-default:"false"`

	Location  *time.Location
	Templates []model.TaskTemplate
}

type templatesFile struct {
	Templates []model.TaskTemplate `yaml:"templates"`
}

// Load reads configuration from the environment (and an optional .env file) plus the templates file.
func Load() (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("BOT_TOKEN is required")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.SnoozeInterval <= 0 {
		cfg.SnoozeInterval = 30 * time.Minute
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}

	templates, err := LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		return cfg, err
	}
	cfg.Templates = templates

	return cfg, nil
}

// LoadTemplates reads task templates from a YAML file. A missing file yields the built-in household chores.
func LoadTemplates(path string) ([]model.TaskTemplate, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultTemplates(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read templates %q: %w", path, err)
	}
	return ParseTemplates(raw)
}

// ParseTemplates decodes and validates a templates document.
func ParseTemplates(raw []byte) ([]model.TaskTemplate, error) {
	var file templatesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if err := ValidateTemplates(file.Templates); err != nil {
		return nil, err
	}
	return file.Templates, nil
}

// ValidateTemplates checks every template and key uniqueness.
func ValidateTemplates(templates []model.TaskTemplate) error {
	seen := make(map[string]struct{}, len(templates))
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, ok := seen[t.Key]; ok {
			return fmt.Errorf("duplicate template key %q", t.Key)
		}
		seen[t.Key] = struct{}{}
	}
	return nil
}

// DefaultTemplates are used when no templates file is present.
func DefaultTemplates() []model.TaskTemplate {
	return []model.TaskTemplate{
		{Key: "garden_morning", DisplayName: "Полить сад (утро)", Hour: 9, Minute: 0, ActiveWeekdays: model.AllWeek(), SupportsRain: true},
		{Key: "garden_evening", DisplayName: "Полить сад (вечер)", Hour: 19, Minute: 0, ActiveWeekdays: model.AllWeek(), SupportsRain: true},
		{Key: "flowers", DisplayName: "Полить цветы дома", Hour: 10, Minute: 0, ActiveWeekdays: []int{0, 3, 5}},
		{Key: "dishwasher", DisplayName: "Запустить посудомойку", Hour: 21, Minute: 30, ActiveWeekdays: model.AllWeek()},
	}
}
