// Package entity holds the vocabulary shared by every syncflow component:
// entity types, CRUD operations, the (type, operation) dispatch key, change
// notifications and the routing keys derived from them.
package entity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUnknownType      = errors.New("syncflow: unknown entity type")
	ErrUnknownOperation = errors.New("syncflow: unknown crud operation")
	ErrInvalidRouteKey  = errors.New("syncflow: invalid routing key")
)

// Type names a synchronised entity. The value doubles as the outer XML tag of
// its envelope and as the first segment of its routing key.
type Type string

const (
	User       Type = "user"
	Company    Type = "company"
	Event      Type = "event"
	Attendance Type = "attendance"
	Product    Type = "product"
	Order      Type = "order"
)

var types = []Type{User, Company, Event, Attendance, Product, Order}

// Types returns every supported entity type in a stable order.
func Types() []Type {
	return slices.Clone(types)
}

// ParseType accepts the type name in any letter case.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(types, t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
	return t, nil
}

func (t Type) String() string { return string(t) }

// Operation is the crud_operation carried by every envelope.
type Operation string

const (
	Create Operation = "create"
	Update Operation = "update"
	Delete Operation = "delete"
)

var operations = []Operation{Create, Update, Delete}

// Operations returns create, update and delete.
func Operations() []Operation {
	return slices.Clone(operations)
}

// ParseOperation accepts the operation name in any letter case.
func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(operations, op) {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, raw)
	}
	return op, nil
}

func (o Operation) String() string { return string(o) }

// Kind is the dispatch key of the publisher and the consumer handler table.
type Kind struct {
	Type      Type
	Operation Operation
}

func (k Kind) String() string {
	return string(k.Type) + "." + string(k.Operation)
}

// Valid reports whether both halves of the key are known.
func (k Kind) Valid() bool {
	return slices.Contains(types, k.Type) && slices.Contains(operations, k.Operation)
}

// Kinds enumerates every (type, operation) combination. Handler tables are
// checked against it so a missing combination is caught at wiring time.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(types)*len(operations))
	for _, t := range types {
		for _, op := range operations {
			kinds = append(kinds, Kind{Type: t, Operation: op})
		}
	}
	return kinds
}

// ChangeNotification is one captured change in the source system.
type ChangeNotification struct {
	// ChangeID identifies the change-log row so it can be cleared after publish.
	ChangeID  string
	Type      Type
	Operation Operation
	// SourceID is the entity's id in the source system.
	SourceID string
	// ChangedFields lists the source columns touched by an update, in the
	// order the change log reported them. Empty for create and delete.
	ChangedFields []string
}

func (n ChangeNotification) Kind() Kind {
	return Kind{Type: n.Type, Operation: n.Operation}
}
