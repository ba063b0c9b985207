// Package history keeps a bounded, in-process conversation window per user.
// Windows are used to give the AI backend short-term context and are lost on
// restart.
package history

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

const (
	// DefaultCapacity is the number of entries remembered per user.
	DefaultCapacity = 5
	// DefaultSnippetLimit caps rendered text entries, in runes.
	DefaultSnippetLimit = 180

	ellipsis = "..."
)

// window is a fixed-capacity ring of entries guarded by its own mutex.
type window struct {
	mu      sync.Mutex
	entries []domain.ConversationEntry
	start   int
	size    int
}

func newWindow(capacity int) *window {
	return &window{entries: make([]domain.ConversationEntry, capacity)}
}

func (w *window) push(es ...domain.ConversationEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range es {
		w.pushLocked(e)
	}
}

func (w *window) pushLocked(e domain.ConversationEntry) {
	c := len(w.entries)
	if w.size < c {
		w.entries[(w.start+w.size)%c] = e
		w.size++
		return
	}
	// Full: overwrite the oldest slot and advance.
	w.entries[w.start] = e
	w.start = (w.start + 1) % c
}

func (w *window) snapshot() []domain.ConversationEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.ConversationEntry, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.entries[(w.start+i)%len(w.entries)]
	}
	return out
}

// Store holds one window per user. It is safe for concurrent use.
type Store struct {
	capacity     int
	snippetLimit int

	mu      sync.RWMutex
	windows map[string]*window
}

// New returns a Store with the given window capacity and snippet limit.
// Non-positive values fall back to DefaultCapacity and DefaultSnippetLimit;
// snippet limits too small to hold the ellipsis are raised to fit it.
func New(capacity, snippetLimit int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if snippetLimit <= 0 {
		snippetLimit = DefaultSnippetLimit
	}
	if snippetLimit <= len(ellipsis) {
		snippetLimit = len(ellipsis) + 1
	}
	return &Store{
		capacity:     capacity,
		snippetLimit: snippetLimit,
		windows:      make(map[string]*window),
	}
}

// Capacity returns the per-user window size.
func (s *Store) Capacity() int { return s.capacity }

// Append remembers content for userID, evicting the oldest entry when the
// window is full. Empty content is ignored.
func (s *Store) Append(userID string, role domain.Role, content string, kind domain.EntryKind) {
	if content == "" {
		return
	}
	s.windowFor(userID, true).push(domain.ConversationEntry{Role: role, Content: content, Kind: kind})
}

// AppendExchange remembers a user message and the assistant's answer as one
// step, so concurrent exchanges of the same user never interleave. Empty
// parts are skipped.
func (s *Store) AppendExchange(userID, request string, kind domain.EntryKind, answer string) {
	var es []domain.ConversationEntry
	if request != "" {
		es = append(es, domain.ConversationEntry{Role: domain.RoleUser, Content: request, Kind: kind})
	}
	if answer != "" {
		es = append(es, domain.ConversationEntry{Role: domain.RoleAssistant, Content: answer, Kind: domain.KindText})
	}
	if len(es) == 0 {
		return
	}
	s.windowFor(userID, true).push(es...)
}

// Entries returns a copy of userID's window, oldest first.
func (s *Store) Entries(userID string) []domain.ConversationEntry {
	w := s.windowFor(userID, false)
	if w == nil {
		return nil
	}
	return w.snapshot()
}

// Summary renders userID's window as "{role}: {content}" lines, oldest
// first. Text entries longer than the snippet limit are cut to fit with a
// trailing "..."; photo notes are kept whole. It returns "" when the user
// has no history.
func (s *Store) Summary(userID string) string {
	entries := s.Entries(userID)
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		text := e.Content
		if e.Kind != domain.KindPhoto {
			text = clip(text, s.snippetLimit)
		}
		lines = append(lines, e.Role.String()+": "+text)
	}
	return strings.Join(lines, "\n")
}

// Reset forgets userID's window.
func (s *Store) Reset(userID string) {
	s.mu.Lock()
	delete(s.windows, userID)
	s.mu.Unlock()
}

func (s *Store) windowFor(userID string, create bool) *window {
	s.mu.RLock()
	w := s.windows[userID]
	s.mu.RUnlock()
	if w != nil || !create {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w = s.windows[userID]; w == nil {
		w = newWindow(s.capacity)
		s.windows[userID] = w
	}
	return w
}

// clip keeps s when it has at most limit runes, otherwise it returns the
// first limit-3 runes followed by "...".
func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}
