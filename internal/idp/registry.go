// internal/idp/registry.go
package idp

import (
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"dirsync/pkg/config"
	"dirsync/pkg/directories"
)

// ProviderConfig is everything a factory needs to build a provider
// client for one directory. BaseURL overrides the domain-derived API
// root (tests point it at a local server).
type ProviderConfig struct {
	Credentials directories.Credentials
	Settings    config.SyncSettings
	Log         *zap.SugaredLogger
	HTTPClient  *http.Client
	BaseURL     string
}

type Factory func(cfg ProviderConfig) (Provider, error)

// Registry maps provider types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(providerType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = f
}

// New builds a provider client for the directory, dispatching on its
// provider type.
func (r *Registry) New(dir directories.Directory, cfg ProviderConfig) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[dir.ProviderType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", dir.ProviderType)
	}
	cfg.Credentials = dir.Credentials
	return f(cfg)
}
