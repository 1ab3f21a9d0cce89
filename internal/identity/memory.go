package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type bindingKey struct {
	service string
	localID string
}

// MemoryResolver keeps the mapping in process memory. It backs the in-memory
// round trip example and tests; several dispatchers may share one instance.
type MemoryResolver struct {
	mu       sync.RWMutex
	bindings map[string]map[string]string // master -> service -> local id
	reverse  map[bindingKey]string
	newID    func() string
}

// NewMemoryResolver returns an empty resolver allocating random v4 UUIDs.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{
		bindings: make(map[string]map[string]string),
		reverse:  make(map[bindingKey]string),
		newID:    uuid.NewString,
	}
}

func (m *MemoryResolver) CreateMasterIdentity(_ context.Context, service, localID string) (string, error) {
	if localID == "" {
		return "", ErrEmptyIdentifier
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	master := m.newID()
	m.bindings[master] = map[string]string{service: localID}
	m.reverse[bindingKey{service, localID}] = master
	return master, nil
}

func (m *MemoryResolver) GetMasterUUID(_ context.Context, service, localID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	master, ok := m.reverse[bindingKey{service, localID}]
	return master, ok, nil
}

func (m *MemoryResolver) GetServiceID(_ context.Context, service, masterUUID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	localID, ok := m.bindings[masterUUID][service]
	return localID, ok && localID != "", nil
}

func (m *MemoryResolver) AddServiceBinding(_ context.Context, masterUUID, service, localID string) error {
	if masterUUID == "" || localID == "" {
		return ErrEmptyIdentifier
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	services, ok := m.bindings[masterUUID]
	if !ok {
		services = make(map[string]string)
		m.bindings[masterUUID] = services
	}
	if previous, ok := services[service]; ok {
		delete(m.reverse, bindingKey{service, previous})
	}
	services[service] = localID
	m.reverse[bindingKey{service, localID}] = masterUUID
	return nil
}

func (m *MemoryResolver) DeleteServiceBinding(_ context.Context, masterUUID, service string) error {
	if masterUUID == "" {
		return ErrEmptyIdentifier
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	services := m.bindings[masterUUID]
	if localID, ok := services[service]; ok {
		delete(m.reverse, bindingKey{service, localID})
		delete(services, service)
	}
	return nil
}

// Masters reports how many master identities have been allocated.
func (m *MemoryResolver) Masters() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bindings)
}
