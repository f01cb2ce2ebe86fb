package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Hosts dispatches entry points to a ModuleHost by file extension
type Hosts struct {
	byExt map[string]ModuleHost
	mu    sync.RWMutex
}

// NewHosts creates an empty dispatcher
func NewHosts() *Hosts {
	return &Hosts{byExt: make(map[string]ModuleHost)}
}

// Register binds an extension (".lua", or "" for extensionless executables)
// to a host
func (h *Hosts) Register(ext string, host ModuleHost) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byExt[strings.ToLower(ext)] = host
}

// Extensions lists the registered extensions
func (h *Hosts) Extensions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	exts := make([]string, 0, len(h.byExt))
	for ext := range h.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// LoadModule implements ModuleHost
func (h *Hosts) LoadModule(ctx context.Context, entry string, manifest PluginManifest) (PluginInstance, error) {
	ext := strings.ToLower(filepath.Ext(entry))

	h.mu.RLock()
	host, ok := h.byExt[ext]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoModuleHost, filepath.Base(entry))
	}
	return host.LoadModule(ctx, entry, manifest)
}
