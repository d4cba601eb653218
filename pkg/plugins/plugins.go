// Package plugins tracks the plugins loaded into the process and the
// filter fields they contribute, and checks their versions against what
// loaded rule sets require.
package plugins

import "sync"

// Info identifies one loaded plugin.
type Info struct {
	Name    string
	Version string
}

// Registry is the process-wide list of loaded plugins.
type Registry struct {
	mu    sync.RWMutex
	infos []Info
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(info Info) {
	r.mu.Lock()
	r.infos = append(r.infos, info)
	r.mu.Unlock()
}

// List returns a snapshot of the loaded plugins in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Info(nil), r.infos...)
}
