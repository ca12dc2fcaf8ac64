package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplates(t *testing.T) {
	raw := []byte(`
templates:
  - key: garden_morning
    name: Полить сад
    hour: 9
    minute: 0
    days: [0, 1, 2, 3, 4, 5, 6]
    rain: true
  - key: trash
    name: Вынести мусор
    hour: 20
    minute: 15
    days: [1, 4]
`)
	templates, err := ParseTemplates(raw)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.True(t, templates[0].SupportsRain)
	assert.Equal(t, "20:15", templates[1].TimeOfDay())
	assert.Equal(t, []int{1, 4}, templates[1].ActiveWeekdays)
	assert.False(t, templates[1].SupportsRain)
}

func TestParseTemplatesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"duplicate key": `
templates:
  - {key: a, name: A, hour: 1, minute: 0, days: [0]}
  - {key: a, name: B, hour: 2, minute: 0, days: [1]}
`,
		"hour out of range": `
templates:
  - {key: a, name: A, hour: 24, minute: 0, days: [0]}
`,
		"weekday out of range": `
templates:
  - {key: a, name: A, hour: 1, minute: 0, days: [7]}
`,
		"no weekdays": `
templates:
  - {key: a, name: A, hour: 1, minute: 0}
`,
		"not yaml": `templates: [`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTemplates([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadTemplatesFallsBackToDefaults(t *testing.T) {
	templates, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplates(), templates)
	assert.NoError(t, ValidateTemplates(templates))
}

func TestLoadTemplatesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - {key: x, name: X, hour: 7, minute: 5, days: [2]}\n"), 0o600))

	templates, err := LoadTemplates(path)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "x", templates[0].Key)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BOT_TOKEN", " token ")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("SNOOZE_INTERVAL", "45m")
	t.Setenv("TEMPLATES_PATH", filepath.Join(t.TempDir(), "none.yml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, "45m0s", cfg.SnoozeInterval.String())
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, "00:01", cfg.DailyRunAt)
	assert.Len(t, cfg.Templates, len(DefaultTemplates()))
}
