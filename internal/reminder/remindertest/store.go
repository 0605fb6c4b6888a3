package remindertest

import (
	"context"
	"sort"
	"sync"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu       sync.Mutex
	oneshots map[reminder.Key]storage.OneShotRow
	daily    map[string]storage.DailyRow
	zones    map[int64]string
	lists    map[int64]int
	writeErr error
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		oneshots: map[reminder.Key]storage.OneShotRow{},
		daily:    map[string]storage.DailyRow{},
		zones:    map[int64]string{},
		lists:    map[int64]int{},
	}
}

// SetWriteErr makes every write fail with err until reset with nil.
func (s *Store) SetWriteErr(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *Store) PutOneShot(_ context.Context, r storage.OneShotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.oneshots[reminder.Key{ChatID: r.ChatID, Text: r.Text}] = r
	return nil
}

func (s *Store) DeleteOneShot(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	delete(s.oneshots, reminder.Key{ChatID: chatID, Text: text})
	return nil
}

func (s *Store) ListOneShots(context.Context) ([]storage.OneShotRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.OneShotRow, 0, len(s.oneshots))
	for _, r := range s.oneshots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Text < out[j].Text })
	return out, nil
}

func (s *Store) PutDaily(_ context.Context, r storage.DailyRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.daily[r.ID] = r
	return nil
}

func (s *Store) GetDaily(_ context.Context, id string) (storage.DailyRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.daily[id]
	return r, ok, nil
}

func (s *Store) DeleteDaily(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	delete(s.daily, id)
	return nil
}

func (s *Store) ListDaily(_ context.Context, chatID int64) ([]storage.DailyRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.DailyRow, 0, len(s.daily))
	for _, r := range s.daily {
		if chatID == 0 || r.ChatID == chatID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeOfDay != out[j].TimeOfDay {
			return out[i].TimeOfDay < out[j].TimeOfDay
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetChatZone(_ context.Context, chatID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[chatID]
	return z, ok, nil
}

func (s *Store) PutChatZone(_ context.Context, chatID int64, zone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.zones[chatID] = zone
	return nil
}

func (s *Store) GetListMessage(_ context.Context, chatID int64) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lists[chatID]
	return id, ok, nil
}

func (s *Store) PutListMessage(_ context.Context, chatID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.lists[chatID] = messageID
	return nil
}

func (s *Store) DeleteListMessage(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, chatID)
	return nil
}

func (s *Store) Close() error { return nil }

// OneShotCount returns the number of persisted one-shot rows.
func (s *Store) OneShotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.oneshots)
}
