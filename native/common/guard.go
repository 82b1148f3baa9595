package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// ErrInsufficientBalance is shared by the ledger and the modules that move
// funds through it.
var ErrInsufficientBalance = errors.New("insufficient balance")

// PauseView reports whether a module currently rejects user operations.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p reports module as paused. A nil view
// never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an operator-controlled PauseView, usually seeded from node
// configuration and toggled at runtime.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{paused: make(map[string]struct{}, len(modules))}
	for _, module := range modules {
		set.Set(module, true)
	}
	return set
}

func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paused[normalizeModule(module)]
	return ok
}

func (s *PauseSet) Set(module string, paused bool) {
	key := normalizeModule(module)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[key] = struct{}{}
		return
	}
	delete(s.paused, key)
}

// Modules lists the paused modules in lexical order.
func (s *PauseSet) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for module := range s.paused {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
