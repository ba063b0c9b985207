package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// ----- Fake row store -----

type memStore struct {
	mu     sync.Mutex
	sheets map[string][][]string

	findErr   error
	appendErr error
	updateErr error
	listErr   error

	appends int
	updates int
}

func newMemStore() *memStore {
	return &memStore{sheets: map[string][][]string{}}
}

func (m *memStore) seed(sheet string, values ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheet] = append(m.sheets[sheet], values)
	return len(m.sheets[sheet])
}

func (m *memStore) cells(sheet string, row int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sheets[sheet][row-1]...)
}

func (m *memStore) FindByKey(_ context.Context, sheet, key string) (*domain.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for i, r := range m.sheets[sheet] {
		if len(r) > 0 && r[0] == key {
			return &domain.Row{Sheet: sheet, Num: i + 1, Key: key, Cells: append([]string(nil), r...)}, nil
		}
	}
	return nil, nil
}

func (m *memStore) AppendRow(_ context.Context, sheet string, values []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.appends++
	m.sheets[sheet] = append(m.sheets[sheet], append([]string(nil), values...))
	return len(m.sheets[sheet]), nil
}

func (m *memStore) UpdateCell(_ context.Context, sheet string, row, col int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	rows := m.sheets[sheet]
	if row < 1 || row > len(rows) {
		return errors.New("no such row")
	}
	for len(rows[row-1]) < col {
		rows[row-1] = append(rows[row-1], "")
	}
	rows[row-1][col-1] = value
	m.updates++
	return nil
}

func (m *memStore) ListColumn(_ context.Context, sheet string, col int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []string
	for _, r := range m.sheets[sheet] {
		if col <= len(r) {
			out = append(out, r[col-1])
		}
	}
	return out, nil
}
