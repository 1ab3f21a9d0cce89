// Package memory is a downstream system kept in process memory. Examples and
// tests use it as the adapter behind a consuming service.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/drblury/syncflow/internal/dispatcher"
	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
)

var ErrNotFound = errors.New("memory: record not found")

// Store holds the records of one entity type as flattened field maps. Update
// merges only the fields that carry a value, so applying the same patch twice
// leaves the same state.
type Store[F any] struct {
	prefix string

	mu      sync.RWMutex
	next    int
	records map[string]map[string]string
	fail    error
}

// NewStore returns an empty store whose generated ids start with prefix.
func NewStore[F any](prefix string) *Store[F] {
	return &Store[F]{prefix: prefix, records: make(map[string]map[string]string)}
}

func (s *Store[F]) Create(_ context.Context, fields *F) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return "", err
	}
	s.next++
	id := fmt.Sprintf("%s-%d", s.prefix, s.next)
	s.records[id] = envelope.Patch(fields)
	return id, nil
}

func (s *Store[F]) Update(_ context.Context, localID string, fields *F) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	rec, ok := s.records[localID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, localID)
	}
	maps.Copy(rec, envelope.Patch(fields))
	return nil
}

// Delete removes the record. Deleting an unknown id succeeds.
func (s *Store[F]) Delete(_ context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	delete(s.records, localID)
	return nil
}

// Get returns a copy of the stored fields.
func (s *Store[F]) Get(localID string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[localID]
	if !ok {
		return nil, false
	}
	return maps.Clone(rec), true
}

// Put stores fields under localID, replacing what was there.
func (s *Store[F]) Put(localID string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := make(map[string]string, len(fields))
	maps.Copy(rec, fields)
	s.records[localID] = rec
}

func (s *Store[F]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// FailNext makes the next call return err.
func (s *Store[F]) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store[F]) takeFailure() error {
	err := s.fail
	s.fail = nil
	return err
}

// Service bundles one store per entity type.
type Service struct {
	Users       *Store[envelope.UserFields]
	Companies   *Store[envelope.CompanyFields]
	Events      *Store[envelope.EventFields]
	Attendances *Store[envelope.AttendanceFields]
	Products    *Store[envelope.ProductFields]
	Orders      *Store[envelope.OrderFields]
}

// NewService returns empty stores whose ids start with name.
func NewService(name string) *Service {
	return &Service{
		Users:       NewStore[envelope.UserFields](name + "-user"),
		Companies:   NewStore[envelope.CompanyFields](name + "-company"),
		Events:      NewStore[envelope.EventFields](name + "-event"),
		Attendances: NewStore[envelope.AttendanceFields](name + "-attendance"),
		Products:    NewStore[envelope.ProductFields](name + "-product"),
		Orders:      NewStore[envelope.OrderFields](name + "-order"),
	}
}

// Bind registers every store in t.
func (s *Service) Bind(t *dispatcher.Table) error {
	return errors.Join(
		dispatcher.Bind(t, entity.User, s.Users),
		dispatcher.Bind(t, entity.Company, s.Companies),
		dispatcher.Bind(t, entity.Event, s.Events),
		dispatcher.Bind(t, entity.Attendance, s.Attendances),
		dispatcher.Bind(t, entity.Product, s.Products),
		dispatcher.Bind(t, entity.Order, s.Orders),
	)
}
