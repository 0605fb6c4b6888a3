package remindertest

import (
	"context"
	"sync"
	"time"
)

// Zones is a reminder.ZoneResolver with per-chat overrides.
type Zones struct {
	mu   sync.Mutex
	Def  *time.Location
	zone map[int64]*time.Location
}

func (z *Zones) Set(chatID int64, loc *time.Location) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.zone == nil {
		z.zone = map[int64]*time.Location{}
	}
	z.zone[chatID] = loc
}

func (z *Zones) Location(_ context.Context, chatID int64) *time.Location {
	z.mu.Lock()
	defer z.mu.Unlock()
	if loc, ok := z.zone[chatID]; ok {
		return loc
	}
	if z.Def != nil {
		return z.Def
	}
	return time.UTC
}
