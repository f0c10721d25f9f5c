package system

import (
	"errors"
	"sync"
)

// Storage is the key-value surface the system module persists through.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

const pausesKey = "system/pauses"

type storedPauses struct {
	Modules []string
}

// Pauses is the guardian-controlled switchboard halting module mutations. It
// satisfies the pause view the native engines consult before any write.
type Pauses struct {
	store Storage
	mu    sync.Mutex
}

func NewPauses(store Storage) *Pauses {
	return &Pauses{store: store}
}

func (p *Pauses) load() (*storedPauses, error) {
	var stored storedPauses
	ok, err := p.store.KVGet([]byte(pausesKey), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &storedPauses{}, nil
	}
	return &stored, nil
}

// SetPaused toggles the pause flag for a module.
func (p *Pauses) SetPaused(module string, paused bool) error {
	if p == nil || p.store == nil {
		return errors.New("system: pauses not configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, err := p.load()
	if err != nil {
		return err
	}
	idx := -1
	for i, name := range stored.Modules {
		if name == module {
			idx = i
			break
		}
	}
	switch {
	case paused && idx < 0:
		stored.Modules = append(stored.Modules, module)
	case !paused && idx >= 0:
		stored.Modules = append(stored.Modules[:idx], stored.Modules[idx+1:]...)
	default:
		return nil
	}
	return p.store.KVPut([]byte(pausesKey), stored)
}

// IsPaused reports whether the module is halted. Read failures fail open so a
// storage fault cannot freeze the chain; the engines treat only an explicit
// pause as a halt.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil || p.store == nil {
		return false
	}
	stored, err := p.load()
	if err != nil {
		return false
	}
	for _, name := range stored.Modules {
		if name == module {
			return true
		}
	}
	return false
}
