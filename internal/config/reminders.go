package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
	// Zone names must resolve on hosts without a system zoneinfo database.
	_ "time/tzdata"
)

const (
	DefaultTimezone     = "Europe/Kyiv"
	DefaultTransientTTL = 5 * time.Second
	DefaultSendTimeout  = 10 * time.Second

	DuplicateReplace = "replace"
	DuplicateReject  = "reject"
)

var defaultSnoozeOptions = []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}

// Reminders is the resolved, typed form of RemindersConfig.
type Reminders struct {
	Timezone      string
	Location      *time.Location
	TransientTTL  time.Duration
	DeleteInbound bool
	SnoozeOptions []time.Duration
	OnDuplicate   string
	SendTimeout   time.Duration
}

// ResolveReminders applies defaults and validates every field.
func ResolveReminders(rc RemindersConfig) (Reminders, error) {
	out := Reminders{
		Timezone:      strings.TrimSpace(rc.DefaultTimezone),
		DeleteInbound: rc.DeleteInbound == nil || *rc.DeleteInbound,
		OnDuplicate:   strings.ToLower(strings.TrimSpace(rc.OnDuplicate)),
	}
	if out.Timezone == "" {
		out.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(out.Timezone)
	if err != nil {
		return Reminders{}, fmt.Errorf("reminders.default_timezone: invalid %q: %w", out.Timezone, err)
	}
	out.Location = loc

	if out.TransientTTL, err = ParseDurationOrDefault("reminders.transient_ttl", rc.TransientTTL, DefaultTransientTTL); err != nil {
		return Reminders{}, err
	}
	if out.SendTimeout, err = ParseDurationOrDefault("reminders.send_timeout", rc.SendTimeout, DefaultSendTimeout); err != nil {
		return Reminders{}, err
	}

	switch out.OnDuplicate {
	case "":
		out.OnDuplicate = DuplicateReplace
	case DuplicateReplace, DuplicateReject:
	default:
		return Reminders{}, fmt.Errorf("reminders.on_duplicate: must be %q or %q, got %q", DuplicateReplace, DuplicateReject, rc.OnDuplicate)
	}

	if len(rc.SnoozeOptions) == 0 {
		out.SnoozeOptions = append([]time.Duration(nil), defaultSnoozeOptions...)
		return out, nil
	}
	if len(rc.SnoozeOptions) > 4 {
		return Reminders{}, fmt.Errorf("reminders.snooze_options: at most 4 options, got %d", len(rc.SnoozeOptions))
	}
	seen := map[time.Duration]bool{}
	for i, raw := range rc.SnoozeOptions {
		d, err := ParseDurationAtLeast(fmt.Sprintf("reminders.snooze_options[%d]", i), raw, time.Second)
		if err != nil {
			return Reminders{}, err
		}
		if d == 0 {
			return Reminders{}, fmt.Errorf("reminders.snooze_options[%d]: empty", i)
		}
		if !seen[d] {
			seen[d] = true
			out.SnoozeOptions = append(out.SnoozeOptions, d)
		}
	}
	sort.Slice(out.SnoozeOptions, func(i, j int) bool { return out.SnoozeOptions[i] < out.SnoozeOptions[j] })
	return out, nil
}

// Validate checks the sections owned by this package. Storage is validated
// by the app when it maps the section to a driver config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Telegram.Workers < 0 {
		return fmt.Errorf("telegram.workers must be >= 0")
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}
	_, err := ResolveReminders(cfg.Reminders)
	return err
}
