package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

const compactEvery = 200

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (full state, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only mutations since the snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	writes       int

	st fileState
}

type oneShotKey struct {
	chatID int64
	text   string
}

type fileState struct {
	oneshots map[oneShotKey]OneShotRow
	daily    map[string]DailyRow
	zones    map[int64]string
	lists    map[int64]int
}

// snapshotDoc keeps rows as raw JSON so one bad row doesn't lose the rest.
type snapshotDoc struct {
	OneShots []json.RawMessage `json:"oneshots"`
	Daily    []json.RawMessage `json:"daily"`
	Zones    map[string]string `json:"zones"`
	Lists    map[string]int    `json:"lists"`
}

type journalOp struct {
	Op        string      `json:"op"`
	OneShot   *OneShotRow `json:"oneshot,omitempty"`
	Daily     *DailyRow   `json:"daily,omitempty"`
	ChatID    int64       `json:"chat_id,omitempty"`
	Text      string      `json:"text,omitempty"`
	ID        string      `json:"id,omitempty"`
	Zone      string      `json:"zone,omitempty"`
	MessageID int         `json:"message_id,omitempty"`
}

const (
	opPutOneShot    = "put_oneshot"
	opDeleteOneShot = "delete_oneshot"
	opPutDaily      = "put_daily"
	opDeleteDaily   = "delete_daily"
	opPutZone       = "put_zone"
	opPutList       = "put_list"
	opDeleteList    = "delete_list"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		st: fileState{
			oneshots: map[oneShotKey]OneShotRow{},
			daily:    map[string]DailyRow{},
			zones:    map[int64]string{},
			lists:    map[int64]int{},
		},
	}
	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf

	// Fold the replayed journal into a fresh snapshot.
	s.mu.Lock()
	err = s.compactLocked()
	s.mu.Unlock()
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc snapshotDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	for _, raw := range doc.OneShots {
		var r OneShotRow
		if err := json.Unmarshal(raw, &r); err != nil || r.validate() != nil {
			s.log.Warn("skipping unreadable one-shot row", logx.String("raw", string(raw)))
			continue
		}
		s.st.oneshots[oneShotKey{r.ChatID, r.Text}] = r
	}
	for _, raw := range doc.Daily {
		var r DailyRow
		if err := json.Unmarshal(raw, &r); err != nil || r.validate() != nil {
			s.log.Warn("skipping unreadable daily row", logx.String("raw", string(raw)))
			continue
		}
		s.st.daily[r.ID] = r
	}
	for k, v := range doc.Zones {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.st.zones[id] = v
		}
	}
	for k, v := range doc.Lists {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.st.lists[id] = v
		}
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			s.log.Warn("skipping unreadable journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		s.st.apply(op)
	}
	return sc.Err()
}

func (st *fileState) apply(op journalOp) {
	switch op.Op {
	case opPutOneShot:
		if op.OneShot != nil && op.OneShot.validate() == nil {
			st.oneshots[oneShotKey{op.OneShot.ChatID, op.OneShot.Text}] = *op.OneShot
		}
	case opDeleteOneShot:
		delete(st.oneshots, oneShotKey{op.ChatID, op.Text})
	case opPutDaily:
		if op.Daily != nil && op.Daily.validate() == nil {
			st.daily[op.Daily.ID] = *op.Daily
		}
	case opDeleteDaily:
		delete(st.daily, op.ID)
	case opPutZone:
		st.zones[op.ChatID] = op.Zone
	case opPutList:
		st.lists[op.ChatID] = op.MessageID
	case opDeleteList:
		delete(st.lists, op.ChatID)
	}
}

// commit appends op to the journal, then applies it in memory.
func (s *fileStore) commit(op journalOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.st.apply(op)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	doc := snapshotDoc{Zones: map[string]string{}, Lists: map[string]int{}}
	for _, r := range s.st.oneshots {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		doc.OneShots = append(doc.OneShots, b)
	}
	for _, r := range s.st.daily {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		doc.Daily = append(doc.Daily, b)
	}
	for k, v := range s.st.zones {
		doc.Zones[strconv.FormatInt(k, 10)] = v
	}
	for k, v := range s.st.lists {
		doc.Lists[strconv.FormatInt(k, 10)] = v
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) PutOneShot(_ context.Context, r OneShotRow) error {
	if err := r.validate(); err != nil {
		return err
	}
	r.FireAt = r.FireAt.UTC().Truncate(time.Second)
	return s.commit(journalOp{Op: opPutOneShot, OneShot: &r})
}

func (s *fileStore) DeleteOneShot(_ context.Context, chatID int64, text string) error {
	return s.commit(journalOp{Op: opDeleteOneShot, ChatID: chatID, Text: text})
}

func (s *fileStore) ListOneShots(context.Context) ([]OneShotRow, error) {
	s.mu.Lock()
	out := make([]OneShotRow, 0, len(s.st.oneshots))
	for _, r := range s.st.oneshots {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Text < out[j].Text
	})
	return out, nil
}

func (s *fileStore) PutDaily(_ context.Context, r DailyRow) error {
	if err := r.validate(); err != nil {
		return err
	}
	return s.commit(journalOp{Op: opPutDaily, Daily: &r})
}

func (s *fileStore) GetDaily(_ context.Context, id string) (DailyRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.daily[id]
	return r, ok, nil
}

func (s *fileStore) DeleteDaily(_ context.Context, id string) error {
	return s.commit(journalOp{Op: opDeleteDaily, ID: id})
}

func (s *fileStore) ListDaily(_ context.Context, chatID int64) ([]DailyRow, error) {
	s.mu.Lock()
	out := make([]DailyRow, 0, len(s.st.daily))
	for _, r := range s.st.daily {
		if chatID == 0 || r.ChatID == chatID {
			out = append(out, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ChatID != b.ChatID {
			return a.ChatID < b.ChatID
		}
		if a.TimeOfDay != b.TimeOfDay {
			return a.TimeOfDay < b.TimeOfDay
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *fileStore) GetChatZone(_ context.Context, chatID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.st.zones[chatID]
	return z, ok, nil
}

func (s *fileStore) PutChatZone(_ context.Context, chatID int64, zone string) error {
	return s.commit(journalOp{Op: opPutZone, ChatID: chatID, Zone: zone})
}

func (s *fileStore) GetListMessage(_ context.Context, chatID int64) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.lists[chatID]
	return id, ok, nil
}

func (s *fileStore) PutListMessage(_ context.Context, chatID int64, messageID int) error {
	return s.commit(journalOp{Op: opPutList, ChatID: chatID, MessageID: messageID})
}

func (s *fileStore) DeleteListMessage(_ context.Context, chatID int64) error {
	return s.commit(journalOp{Op: opDeleteList, ChatID: chatID})
}
