// pkg/directories/memory.go
package directories

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type MemoryProvider struct {
	log  *zap.SugaredLogger
	mu   sync.RWMutex
	byID map[string]*Directory
}

// NewMemoryProvider returns an empty in-memory provider (tests, dev).
func NewMemoryProvider(log *zap.SugaredLogger) *MemoryProvider {
	return &MemoryProvider{log: log, byID: map[string]*Directory{}}
}

// NewMemoryProviderFromEnv seeds from DIRECTORY_SEED_JSON when present.
func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	p := NewMemoryProvider(log)
	seed := os.Getenv("DIRECTORY_SEED_JSON")
	if seed == "" {
		return p
	}
	var entries []struct {
		ID           string `json:"id"`
		AccountID    string `json:"account_id"`
		ProviderType string `json:"provider_type"`
		Name         string `json:"name"`
		Domain       string `json:"domain"`
		ClientID     string `json:"client_id"`
		KeyID        string `json:"key_id"`
		PrivateKey   string `json:"private_key"`
	}
	_ = json.Unmarshal([]byte(seed), &entries)
	for _, e := range entries {
		pt := e.ProviderType
		if pt == "" {
			pt = "okta"
		}
		p.Put(Directory{
			ID: e.ID, AccountID: e.AccountID, ProviderType: pt, Name: e.Name,
			Credentials: Credentials{Domain: e.Domain, ClientID: e.ClientID, KeyID: e.KeyID, PrivateKey: e.PrivateKey},
		})
	}
	return p
}

// Put inserts or replaces a directory record.
func (m *MemoryProvider) Put(d Directory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.byID[d.ID] = &cp
}

func (m *MemoryProvider) Get(ctx context.Context, id string) (Directory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.byID[id]; ok {
		return *d, nil
	}
	return Directory{}, errors.New("directory not found")
}

func (m *MemoryProvider) ListEnabled(ctx context.Context) ([]Directory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Directory
	for _, d := range m.byID {
		if !d.IsDisabled {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryProvider) MarkSynced(ctx context.Context, id string, passStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return errors.New("directory not found")
	}
	t := passStart
	d.SyncedAt = &t
	d.ErroredAt = nil
	d.ErrorMessage = ""
	d.ErrorEmailCount = 0
	d.IsDisabled = false
	d.DisabledReason = ""
	return nil
}

func (m *MemoryProvider) MarkErrored(ctx context.Context, id, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return errors.New("directory not found")
	}
	t := at
	d.ErroredAt = &t
	d.ErrorMessage = message
	if MentionsEmail(message) {
		d.ErrorEmailCount++
	}
	return nil
}
