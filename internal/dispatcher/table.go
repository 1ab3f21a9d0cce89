package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
)

// Adapter is the downstream system for one entity type. F is the envelope
// field struct of that type, for example envelope.UserFields.
//
// Foreign keys in fields are already mapped to the local ids of the
// consuming service; a reference to an entity the service does not know is
// empty. Update receives a sparse patch: an empty field means "unchanged",
// never "clear it". envelope.Patch lists the fields that carry a value.
type Adapter[F any] interface {
	Create(ctx context.Context, fields *F) (localID string, err error)
	Update(ctx context.Context, localID string, fields *F) error
	Delete(ctx context.Context, localID string) error
}

// Handler applies one decoded envelope. localID is empty for create, and a
// create returns the id the downstream system assigned.
type Handler func(ctx context.Context, localID string, fields any) (string, error)

// Table maps every (type, operation) pair to its handler.
type Table struct {
	mu       sync.RWMutex
	handlers map[entity.Kind]Handler
}

func NewTable() *Table {
	return &Table{handlers: make(map[entity.Kind]Handler)}
}

// Register adds h for kind. A kind can only be registered once.
func (t *Table) Register(kind entity.Kind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", envelope.ErrUnknownKind, kind)
	}
	if h == nil {
		return fmt.Errorf("dispatcher: nil handler for %s", kind)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.handlers[kind]; dup {
		return fmt.Errorf("dispatcher: handler for %s already registered", kind)
	}
	t.handlers[kind] = h
	return nil
}

// Lookup returns the handler registered for kind.
func (t *Table) Lookup(kind entity.Kind) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[kind]
	return h, ok
}

// Kinds lists the registered kinds in entity.Kinds order.
func (t *Table) Kinds() []entity.Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []entity.Kind
	for _, k := range entity.Kinds() {
		if _, ok := t.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Missing lists the kinds without a handler. A service that leaves kinds
// unbound dead-letters every envelope of those kinds.
func (t *Table) Missing() []entity.Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []entity.Kind
	for _, k := range entity.Kinds() {
		if _, ok := t.handlers[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Bind registers create, update and delete of typ with a. It fails when F is
// not the field struct carried by typ envelopes.
func Bind[F any](t *Table, typ entity.Type, a Adapter[F]) error {
	doc, err := envelope.New(typ)
	if err != nil {
		return err
	}
	if _, ok := doc.Payload().(*F); !ok {
		return fmt.Errorf("dispatcher: %s envelopes carry %T, adapter expects *%T", typ, doc.Payload(), *new(F))
	}

	handlers := map[entity.Operation]Handler{
		entity.Create: func(ctx context.Context, _ string, fields any) (string, error) {
			return a.Create(ctx, fields.(*F))
		},
		entity.Update: func(ctx context.Context, localID string, fields any) (string, error) {
			return localID, a.Update(ctx, localID, fields.(*F))
		},
		entity.Delete: func(ctx context.Context, localID string, _ any) (string, error) {
			return localID, a.Delete(ctx, localID)
		},
	}
	for _, op := range entity.Operations() {
		if err := t.Register(entity.Kind{Type: typ, Operation: op}, handlers[op]); err != nil {
			return err
		}
	}
	return nil
}
