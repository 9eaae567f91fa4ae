package module

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Registry and DependencyIndex. It backs tests
// and single-node development deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	defs       map[ModuleKey]Definition
	dependents map[ModuleKey]map[ModuleKey]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		defs:       make(map[ModuleKey]Definition),
		dependents: make(map[ModuleKey]map[ModuleKey]struct{}),
	}
}

// FindDefinition returns the definition under (name, typ), or nil.
func (m *MemoryStore) FindDefinition(ctx context.Context, name string, typ ModuleType) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.defs[ModuleKey{Name: name, Type: typ}]
	if !ok {
		return nil, nil
	}
	return &def, nil
}

// FindDefinitionsByName lists all definitions sharing name, across types.
func (m *MemoryStore) FindDefinitionsByName(ctx context.Context, name string) ([]Definition, error) {
	return m.list(func(d Definition) bool { return d.Name == name }), nil
}

// FindDefinitionsByType lists all definitions of the given type.
func (m *MemoryStore) FindDefinitionsByType(ctx context.Context, typ ModuleType) ([]Definition, error) {
	return m.list(func(d Definition) bool { return d.Type == typ }), nil
}

// FindDefinitions lists every registered definition.
func (m *MemoryStore) FindDefinitions(ctx context.Context) ([]Definition, error) {
	return m.list(func(Definition) bool { return true }), nil
}

// RegisterNew inserts def if its key is free and records dependency edges
// for composed definitions.
func (m *MemoryStore) RegisterNew(ctx context.Context, def Definition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := def.Key()
	if _, exists := m.defs[key]; exists {
		return false, nil
	}
	m.defs[key] = def

	if def.Kind == KindComposed {
		for _, step := range def.Steps {
			edges, ok := m.dependents[step.Key()]
			if !ok {
				edges = make(map[ModuleKey]struct{})
				m.dependents[step.Key()] = edges
			}
			edges[key] = struct{}{}
		}
	}
	return true, nil
}

// Delete removes def and the dependency edges it owns.
func (m *MemoryStore) Delete(ctx context.Context, def Definition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := def.Key()
	existing, ok := m.defs[key]
	if !ok {
		return false, nil
	}
	delete(m.defs, key)

	if existing.Kind == KindComposed {
		for _, step := range existing.Steps {
			if edges, ok := m.dependents[step.Key()]; ok {
				delete(edges, key)
				if len(edges) == 0 {
					delete(m.dependents, step.Key())
				}
			}
		}
	}
	return true, nil
}

// DependentsOf lists the definitions currently referencing (name, typ).
func (m *MemoryStore) DependentsOf(ctx context.Context, name string, typ ModuleType) ([]ModuleKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := m.dependents[ModuleKey{Name: name, Type: typ}]
	if len(edges) == 0 {
		return nil, nil
	}
	keys := make([]ModuleKey, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (m *MemoryStore) list(match func(Definition) bool) []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Definition
	for _, def := range m.defs {
		if match(def) {
			result = append(result, def)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return compositionRank[result[i].Type] < compositionRank[result[j].Type]
	})
	return result
}
