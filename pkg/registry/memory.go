package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-process directory shared by any number of units.
type Memory struct {
	mu     sync.RWMutex
	attrs  map[string]map[string]string
	status map[string]StatusEntry
}

func NewMemory() *Memory {
	return &Memory{
		attrs:  make(map[string]map[string]string),
		status: make(map[string]StatusEntry),
	}
}

// Join registers unit and returns its view of the directory.
func (m *Memory) Join(unit string) Directory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attrs[unit]; !ok {
		m.attrs[unit] = make(map[string]string)
	}
	return &memoryUnit{m: m, self: unit}
}

// Leave removes unit and everything it published.
func (m *Memory) Leave(unit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attrs, unit)
	delete(m.status, unit)
}

func (m *Memory) Status(_ context.Context, unit string) (StatusEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.status[unit]
	if !ok {
		return StatusEntry{}, errors.Wrapf(ErrNotFound, "status of %s", unit)
	}
	return s, nil
}

type memoryUnit struct {
	m    *Memory
	self string
}

func (u *memoryUnit) Self() string { return u.self }

func (u *memoryUnit) Peers(context.Context) ([]string, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	peers := make([]string, 0, len(u.m.attrs))
	for unit := range u.m.attrs {
		if unit != u.self {
			peers = append(peers, unit)
		}
	}
	slices.Sort(peers)
	return peers, nil
}

func (u *memoryUnit) Get(_ context.Context, peer, key string) (string, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	v, ok := u.m.attrs[peer][key]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "%s of %s", key, peer)
	}
	return v, nil
}

func (u *memoryUnit) Set(_ context.Context, key, value string) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	attrs, ok := u.m.attrs[u.self]
	if !ok {
		attrs = make(map[string]string)
		u.m.attrs[u.self] = attrs
	}
	attrs[key] = value
	return nil
}

func (u *memoryUnit) SetStatus(_ context.Context, status Status, message string) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	u.m.status[u.self] = StatusEntry{Status: status, Message: message}
	return nil
}

func (u *memoryUnit) Status(ctx context.Context, unit string) (StatusEntry, error) {
	return u.m.Status(ctx, unit)
}
