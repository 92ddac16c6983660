package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the platform adapters. Create it with NewRegistry and pass it explicitly.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Type]Adapter{},
	}
}

// Register adds an adapter; each platform may be registered once.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}
	ct := normalizeType(adapter.Type().String())
	if ct == "" {
		return errors.New("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType Type) (Adapter, bool) {
	ct := normalizeType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// GetInbound returns the webhook side of the adapter if it has one.
func (r *Registry) GetInbound(channelType Type) (InboundAdapter, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	inbound, ok := adapter.(InboundAdapter)
	return inbound, ok
}

// GetSender returns the send side of the adapter if it has one.
func (r *Registry) GetSender(channelType Type) (Sender, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(Sender)
	return sender, ok
}

// Types returns the registered channel types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Type, 0, len(r.adapters))
	for ct := range r.adapters {
		items = append(items, ct)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}
