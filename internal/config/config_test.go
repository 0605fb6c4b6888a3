package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 15s
logging:
  level: debug
  console: true
reminders:
  default_timezone: Europe/Berlin
  snooze_options: ["1h", "10m", "10m"]
  on_duplicate: reject
`

func TestDecodeYAMLMatchesJSON(t *testing.T) {
	t.Parallel()
	fromYAML, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	fromJSON, err := Decode("config.json", []byte(`{
		"telegram": {"token": "123:abc", "poll_timeout": "15s"},
		"logging": {"level": "debug", "console": true},
		"reminders": {"default_timezone": "Europe/Berlin", "snooze_options": ["1h", "10m", "10m"], "on_duplicate": "reject"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		data string
	}{
		{name: "unknown field", path: "c.json", data: `{"telegram": {"token": "x"}, "pprof": {}}`},
		{name: "trailing data", path: "c.json", data: `{} {}`},
		{name: "empty json", path: "c.json", data: "   "},
		{name: "empty yaml", path: "c.yml", data: "# nothing\n"},
		{name: "bad yaml", path: "c.yaml", data: "telegram: [unclosed"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestResolveRemindersDefaults(t *testing.T) {
	t.Parallel()
	r, err := ResolveReminders(RemindersConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, r.Timezone)
	assert.Equal(t, DefaultTransientTTL, r.TransientTTL)
	assert.Equal(t, DefaultSendTimeout, r.SendTimeout)
	assert.True(t, r.DeleteInbound)
	assert.Equal(t, DuplicateReplace, r.OnDuplicate)
	assert.Equal(t, []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}, r.SnoozeOptions)
}

func TestResolveRemindersSortsAndDedupsSnooze(t *testing.T) {
	t.Parallel()
	off := false
	r, err := ResolveReminders(RemindersConfig{
		SnoozeOptions: []string{"1h", "10m", "10m"},
		DeleteInbound: &off,
		OnDuplicate:   "Reject",
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Minute, time.Hour}, r.SnoozeOptions)
	assert.False(t, r.DeleteInbound)
	assert.Equal(t, DuplicateReject, r.OnDuplicate)
}

func TestResolveRemindersInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rc   RemindersConfig
	}{
		{name: "zone", rc: RemindersConfig{DefaultTimezone: "Mars/Olympus"}},
		{name: "ttl", rc: RemindersConfig{TransientTTL: "soon"}},
		{name: "negative ttl", rc: RemindersConfig{TransientTTL: "-1s"}},
		{name: "policy", rc: RemindersConfig{OnDuplicate: "merge"}},
		{name: "tiny snooze", rc: RemindersConfig{SnoozeOptions: []string{"10ms"}}},
		{name: "too many snooze", rc: RemindersConfig{SnoozeOptions: []string{"1m", "2m", "3m", "4m", "5m"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ResolveReminders(tt.rc)
			require.Error(t, err)
		})
	}
}

func TestValidateRequiresToken(t *testing.T) {
	t.Parallel()
	require.Error(t, Validate(&Config{}))
	require.NoError(t, Validate(&Config{Telegram: TelegramConfig{Token: "t"}}))
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "secret"}}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "secret", AllowedUserIDs: []int64{1}},
		Reminders: RemindersConfig{TransientTTL: "3s"},
		Storage:   &StorageConfig{Driver: "file", Path: "./x.json"},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"reminders", "storage", "telegram"}, sections)
	assert.NotEmpty(t, attrs)

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
}

func TestWatchPublishesValidatedChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"a"}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"b"}}`), 0o600))

	select {
	case cfg := <-sub:
		require.Equal(t, "b", cfg.Telegram.Token)
		require.Equal(t, "b", m.Get().Telegram.Token)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not published")
	}
}

func TestReloadRejectsInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"a"}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":""}}`), 0o600))
	require.False(t, m.reload(context.Background()))
	require.Equal(t, "a", m.Get().Telegram.Token)

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"c"}}`), 0o600))
	require.True(t, m.reload(context.Background()))
	require.False(t, m.reload(context.Background()), "unchanged content must not republish")
}

func TestParseDurationHelpers(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationField("x", " 2m ")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = ParseDurationAtLeast("x", "500ms", time.Second)
	require.ErrorContains(t, err, "at least 1s")
	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)
}
