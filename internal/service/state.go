package service

import (
	"sync"
	"time"
)

// StateStore keeps the runtime record of every layer, keyed by layer id.
// Records are created lazily on first write and live for the process lifetime.
type StateStore struct {
	registry *Registry
	bus      *EventBus
	now      func() time.Time

	mu     sync.RWMutex
	states map[string]*LayerState
}

// NewStateStore creates a store over a registry. bus may be nil.
func NewStateStore(registry *Registry, bus *EventBus) *StateStore {
	return &StateStore{
		registry: registry,
		bus:      bus,
		now:      time.Now,
		states:   make(map[string]*LayerState),
	}
}

// Get returns the state of a layer. Layers that were never written report
// their descriptor's initial visibility.
func (s *StateStore) Get(id string) LayerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[id]; ok {
		return *st
	}
	return s.seed(id)
}

// Merge writes the present fields of u into the layer's record, creating the
// record if absent, and returns the resulting state.
func (s *StateStore) Merge(id string, u LayerStateUpdate) LayerState {
	return s.Update(id, func(st *LayerState) {
		if u.Visible != nil {
			st.Visible = *u.Visible
		}
		if u.Loading != nil {
			st.Loading = *u.Loading
		}
		if u.Loaded != nil {
			st.Loaded = *u.Loaded
		}
		if u.Payload != nil {
			st.Payload = *u.Payload
		}
	})
}

// Update applies fn to the layer's record under the store lock and publishes
// the change. fn must not block.
func (s *StateStore) Update(id string, fn func(st *LayerState)) LayerState {
	s.mu.Lock()
	st, ok := s.states[id]
	if !ok {
		seeded := s.seed(id)
		st = &seeded
		s.states[id] = st
	}
	fn(st)
	st.UpdatedAt = s.now()
	out := *st
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(Event{Resource: ResourceLayers, Action: ActionUpdated, ID: id})
	}
	return out
}

// View returns a layer joined with its state.
func (s *StateStore) View(id string) (LayerView, bool) {
	desc, ok := s.registry.Find(id)
	if !ok {
		return LayerView{}, false
	}
	return LayerView{LayerDescriptor: desc, State: s.Get(id)}, true
}

// Views returns every registry layer joined with its state, in registry order.
func (s *StateStore) Views() []LayerView {
	return s.filter(func(LayerState) bool { return true })
}

// VisibleLayers returns the flattened registry filtered by visibility.
func (s *StateStore) VisibleLayers() []LayerView {
	return s.filter(func(st LayerState) bool { return st.Visible })
}

// LoadingLayers returns the layers with a load in flight.
func (s *StateStore) LoadingLayers() []LayerView {
	return s.filter(func(st LayerState) bool { return st.Loading })
}

func (s *StateStore) filter(keep func(LayerState) bool) []LayerView {
	layers := s.registry.Layers()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LayerView, 0, len(layers))
	for _, l := range layers {
		st := LayerState{Visible: l.Visible}
		if rec, ok := s.states[l.ID]; ok {
			st = *rec
		}
		if keep(st) {
			out = append(out, LayerView{LayerDescriptor: l, State: st})
		}
	}
	return out
}

// seed builds the initial record for a layer. Callers hold s.mu.
func (s *StateStore) seed(id string) LayerState {
	if desc, ok := s.registry.Find(id); ok {
		return LayerState{Visible: desc.Visible}
	}
	return LayerState{}
}
