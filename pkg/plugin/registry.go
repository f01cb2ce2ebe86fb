package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PluginRegistry tracks loaded plugins and their state. The loader is its
// only writer.
type PluginRegistry struct {
	plugins map[string]*PluginRecord
	mu      sync.RWMutex
}

// NewPluginRegistry creates a new plugin registry
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins: make(map[string]*PluginRecord),
	}
}

// Register records a load attempt, successful or not
func (r *PluginRegistry) Register(plugin *LoadedPlugin, commands []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := plugin.Manifest.Name
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}

	record := &PluginRecord{
		Plugin:             plugin,
		RegisteredCommands: append([]string(nil), commands...),
		LoadedAt:           time.Now(),
	}
	if plugin.Err != nil {
		record.ErrorCount = 1
		record.LastError = plugin.Err
	}

	r.plugins[name] = record
	return nil
}

// Get retrieves a plugin record by name
func (r *PluginRegistry) Get(name string) (*PluginRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, exists := r.plugins[name]
	return record, exists
}

// GetAll returns all records sorted by plugin name
func (r *PluginRegistry) GetAll() []*PluginRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*PluginRecord, 0, len(r.plugins))
	for _, record := range r.plugins {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Plugin.Manifest.Name < records[j].Plugin.Manifest.Name
	})
	return records
}

// Update updates a plugin record
func (r *PluginRegistry) Update(name string, updater func(*PluginRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.plugins[name]
	if !exists {
		return fmt.Errorf("plugin %s not found", name)
	}

	updater(record)
	return nil
}

// RecordError records an error for a plugin
func (r *PluginRegistry) RecordError(name string, err error) error {
	return r.Update(name, func(record *PluginRecord) {
		record.ErrorCount++
		record.LastError = err
	})
}

// Remove removes a plugin from the registry
func (r *PluginRegistry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; !exists {
		return fmt.Errorf("plugin %s not found", name)
	}

	delete(r.plugins, name)
	return nil
}
