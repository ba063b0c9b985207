package services

import (
	"context"
	"errors"
	"sync"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// ----- Fake row store (backs a real ledger.Client) -----

type memRows struct {
	mu      sync.Mutex
	sheets  map[string][][]string
	findErr error
}

func newMemRows() *memRows { return &memRows{sheets: map[string][][]string{}} }

func (m *memRows) seedUser(id, used, limit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[domain.SheetUsers] = append(m.sheets[domain.SheetUsers], []string{id, used, limit})
}

func (m *memRows) user(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.sheets[domain.SheetUsers] {
		if r[0] == id {
			return append([]string(nil), r...)
		}
	}
	return nil
}

func (m *memRows) FindByKey(_ context.Context, sheet, key string) (*domain.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for i, r := range m.sheets[sheet] {
		if r[0] == key {
			return &domain.Row{Sheet: sheet, Num: i + 1, Key: key, Cells: append([]string(nil), r...)}, nil
		}
	}
	return nil, nil
}

func (m *memRows) AppendRow(_ context.Context, sheet string, values []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheet] = append(m.sheets[sheet], append([]string(nil), values...))
	return len(m.sheets[sheet]), nil
}

func (m *memRows) UpdateCell(_ context.Context, sheet string, row, col int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sheets[sheet]
	if row < 1 || row > len(rows) || col > len(rows[row-1]) {
		return errors.New("out of range")
	}
	rows[row-1][col-1] = value
	return nil
}

func (m *memRows) ListColumn(_ context.Context, sheet string, col int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.sheets[sheet] {
		out = append(out, r[col-1])
	}
	return out, nil
}

// ----- Fake transport -----

type sent struct {
	chatID int64
	markup string
}

type fakeTransport struct {
	mu      sync.Mutex
	texts   []sent
	actions []ChatAction
	sendErr error
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, markup string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sent{chatID, markup})
	return f.sendErr
}

func (f *fakeTransport) SendTyping(_ context.Context, _ int64, action ChatAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return errors.New("typing is best effort")
}

func (f *fakeTransport) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1].markup
}

// ----- Fake AI -----

type fakeAI struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	img     *domain.Image

	reply   string
	err     error
	panicV  any
	entered chan struct{} // signalled on each call when non-nil
	gate    chan struct{} // blocks each call until closed when non-nil
}

func (f *fakeAI) Generate(_ context.Context, prompt string, img *domain.Image) (string, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.img = img
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.panicV != nil {
		panic(f.panicV)
	}
	return f.reply, f.err
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ----- Fake photo fetcher, code registry, log sink -----

type fakePhotos struct {
	img *domain.Image
	err error
	ref string
}

func (f *fakePhotos) FetchPhoto(_ context.Context, ref string) (*domain.Image, error) {
	f.ref = ref
	return f.img, f.err
}

type fakeCodes map[string]bool

func (f fakeCodes) IsValid(_ context.Context, code string) bool { return f[code] }

type fakeLogs struct {
	mu   sync.Mutex
	recs []domain.LogRecord
	err  error
}

func (f *fakeLogs) Append(_ context.Context, rec domain.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}
