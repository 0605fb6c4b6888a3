// Package zones resolves the timezone of a chat.
package zones

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var ErrInvalidZone = errors.New("invalid timezone")

type cached struct {
	loc      *time.Location
	explicit bool
}

// Service maps chats to IANA zones, falling back to a default.
type Service struct {
	store storage.Store
	log   logx.Logger

	mu    sync.RWMutex
	def   *time.Location
	cache map[int64]cached
}

func New(store storage.Store, def *time.Location, log logx.Logger) *Service {
	if def == nil {
		def = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, def: def, cache: map[int64]cached{}}
}

func (s *Service) Default() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}

// SetDefault changes the zone of chats without a preference.
func (s *Service) SetDefault(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	s.def = loc
	s.mu.Unlock()
}

// Location returns the chat's zone. Lookup failures fall back to the default.
func (s *Service) Location(ctx context.Context, chatID int64) *time.Location {
	loc, _ := s.lookup(ctx, chatID)
	return loc
}

// Zone returns the chat's zone name and whether the chat chose it.
func (s *Service) Zone(ctx context.Context, chatID int64) (string, bool) {
	loc, explicit := s.lookup(ctx, chatID)
	return loc.String(), explicit
}

func (s *Service) lookup(ctx context.Context, chatID int64) (*time.Location, bool) {
	s.mu.RLock()
	c, ok := s.cache[chatID]
	def := s.def
	s.mu.RUnlock()
	if ok {
		if c.explicit {
			return c.loc, true
		}
		return def, false
	}

	name, found, err := s.store.GetChatZone(ctx, chatID)
	if err != nil {
		s.log.Warn("load chat zone failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return def, false
	}
	c = cached{}
	if found {
		loc, err := time.LoadLocation(name)
		if err != nil {
			s.log.Warn("stored chat zone is invalid", logx.Int64("chat_id", chatID), logx.String("zone", name), logx.Err(err))
		} else {
			c = cached{loc: loc, explicit: true}
		}
	}
	s.mu.Lock()
	s.cache[chatID] = c
	s.mu.Unlock()
	if c.explicit {
		return c.loc, true
	}
	return def, false
}

// Set validates and stores the chat's zone.
func (s *Service) Set(ctx context.Context, chatID int64, name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, name)
	}
	if err := s.store.PutChatZone(ctx, chatID, loc.String()); err != nil {
		return nil, fmt.Errorf("persist chat zone: %w", err)
	}
	s.mu.Lock()
	s.cache[chatID] = cached{loc: loc, explicit: true}
	s.mu.Unlock()
	return loc, nil
}
