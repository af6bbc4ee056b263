package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signoff/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Organization.ID)
	assert.Equal(t, []string{"manager", "role:hr"}, cfg.Chains.Types["leave_request"])
	cooldown, err := cfg.ReminderCooldown()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cooldown)
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOrDefault(dir)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Organization.ID)

	_, err = config.Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "signoff.yml"), []byte(config.GenerateDefault()), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Directory.People, 5)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"missing org", func(c *config.Config) { c.Organization.ID = "" }},
		{"unknown stage", func(c *config.Config) { c.Chains.Types["time_off"] = []string{"boss"} }},
		{"role without name", func(c *config.Config) { c.Chains.Default = []string{"role:"} }},
		{"unknown person stage", func(c *config.Config) { c.Chains.Default = []string{"person:ghost"} }},
		{"empty typed chain", func(c *config.Config) { c.Chains.Types["time_off"] = nil }},
		{"unknown manager", func(c *config.Config) { c.Directory.People[3].ManagerID = "ghost" }},
		{"duplicate person", func(c *config.Config) { c.Directory.People[4].ID = "emp-1" }},
		{"bad cooldown", func(c *config.Config) { c.Reminders.Cooldown = "soon" }},
		{"bad sink", func(c *config.Config) { c.Notifications.Sink = "pigeon" }},
		{"nats without url", func(c *config.Config) { c.Notifications.Sink = "nats" }},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Driver = "postgres" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestReminderCooldown(t *testing.T) {
	cfg := config.Default()
	cfg.Reminders.Cooldown = "0"
	d, err := cfg.ReminderCooldown()
	require.NoError(t, err)
	assert.Zero(t, d)

	cfg.Reminders.Cooldown = "15m"
	d, err = cfg.ReminderCooldown()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)
}

func TestCustomTypes(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, cfg.CustomTypes())

	cfg.Chains.Types["vendor_onboarding"] = []string{"manager"}
	cfg.Chains.Types["badge_access"] = []string{"role:admin"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"badge_access", "vendor_onboarding"}, cfg.CustomTypes())
}

func TestSplitStage(t *testing.T) {
	kind, arg := config.SplitStage(" role: hr ")
	assert.Equal(t, "role", kind)
	assert.Equal(t, "hr", arg)
	kind, arg = config.SplitStage("manager")
	assert.Equal(t, "manager", kind)
	assert.Empty(t, arg)
}
