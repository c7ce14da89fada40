// Package events implements the append-only event log: one
// events-YYYY-MM-DD.jsonl file per day, with an in-memory LRU cache that
// accelerates repeated queries over recent events.
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kestrelrun/runner/internal/mask"
)

// Source enumerates where an event originated.
type Source string

const (
	SourceFileChange Source = "file_change"
	SourceExecutor   Source = "executor"
	SourceTask       Source = "task"
	SourceSession    Source = "session"
	SourceCommand    Source = "command"
)

// Relations links an event back to the entities it concerns.
type Relations struct {
	TaskID        string `json:"taskId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	ExecutorID    string `json:"executorId,omitempty"`
	ParentEventID string `json:"parentEventId,omitempty"`
}

// Event is the uniform record written to the event log.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    Source                 `json:"source"`
	Summary   string                 `json:"summary"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Relations Relations              `json:"relations,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
}

// criticalSources are appended synchronously; everything else may be
// queued for best-effort background append, mirroring the teacher's
// async/serialize tool split in its concurrent tool executor.
var criticalSources = map[Source]bool{
	SourceSession: true,
	SourceTask:    true,
}

// Filter selects a subset of events for Query.
type Filter struct {
	Source     Source
	Since      time.Time
	Until      time.Time
	TaskID     string
	SessionID  string
	ExecutorID string
	Descending bool
	Offset     int
	Limit      int
}

// Store is the append-only, file-backed event log for one session tree.
type Store struct {
	dir     string
	mu      sync.Mutex
	seq     uint64
	cache   *lru.Cache[string, Event]
	loaded  bool
	asyncCh chan Event
	wg      sync.WaitGroup
}

// NewStore creates a Store rooted at dir (the session's logs directory).
// cacheSize defaults to 1000 if <= 0, per the soft default in the design
// notes' open questions.
func NewStore(dir string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c, err := lru.New[string, Event](cacheSize)
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir, cache: c, asyncCh: make(chan Event, 256)}
	s.wg.Add(1)
	go s.asyncLoop()
	return s, nil
}

func (s *Store) asyncLoop() {
	defer s.wg.Done()
	for ev := range s.asyncCh {
		_ = s.appendNow(ev)
	}
}

// Close drains the async append queue. Call on shutdown.
func (s *Store) Close() {
	close(s.asyncCh)
	s.wg.Wait()
}

func (s *Store) nextID() string {
	s.seq++
	return fmt.Sprintf("evt-%03d", s.seq)
}

func (s *Store) pathForDate(t time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("events-%s.jsonl", t.Format("2006-01-02")))
}

// Record appends an event. Content fields under Data are masked before
// they ever reach disk. Critical sources (task, session) are appended
// synchronously; everything else is best-effort background appended.
func (s *Store) Record(ev Event) (Event, error) {
	s.mu.Lock()
	if ev.ID == "" {
		ev.ID = s.nextID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Data != nil {
		ev.Data = mask.MaskValue(ev.Data).(map[string]interface{})
	}
	ev.Summary = mask.Mask(ev.Summary)
	s.mu.Unlock()

	s.cache.Add(ev.ID, ev)

	if criticalSources[ev.Source] {
		return ev, s.appendNow(ev)
	}

	select {
	case s.asyncCh <- ev:
	default:
		// Queue full: fall back to synchronous append rather than drop
		// the event — the log is append-only and must not lose entries.
		return ev, s.appendNow(ev)
	}
	return ev, nil
}

func (s *Store) appendNow(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathForDate(ev.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Query scans the cache first and, if the requested window extends
// beyond it, falls back to scanning files newest-first, populating the
// cache lazily along the way.
func (s *Store) Query(ctx context.Context, f Filter) ([]Event, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, ev := range all {
		if f.Source != "" && ev.Source != f.Source {
			continue
		}
		if f.TaskID != "" && ev.Relations.TaskID != f.TaskID {
			continue
		}
		if f.SessionID != "" && ev.Relations.SessionID != f.SessionID {
			continue
		}
		if f.ExecutorID != "" && ev.Relations.ExecutorID != f.ExecutorID {
			continue
		}
		if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if f.Descending {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// loadAll lazily populates the cache from files (newest first) on first
// query, then always serves from the in-memory set thereafter, refreshed
// by every Record call.
func (s *Store) loadAll(ctx context.Context) ([]Event, error) {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()

	if !loaded {
		if err := s.scanFiles(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.loaded = true
		s.mu.Unlock()
	}

	keys := s.cache.Keys()
	out := make([]Event, 0, len(keys))
	for _, k := range keys {
		if ev, ok := s.cache.Peek(k); ok {
			out = append(out, ev)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return out, nil
}

func (s *Store) scanFiles() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "events-") && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		if err := s.scanFile(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) scanFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // corrupt line: skip, never delete the file
		}
		s.cache.Add(ev.ID, ev)
	}
	return sc.Err()
}
