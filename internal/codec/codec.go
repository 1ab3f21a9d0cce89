// Package codec translates between source records, canonical envelopes and
// the arguments handed to downstream adapters.
//
// Envelopes never carry service-local ids. Encode replaces the entity id and
// every foreign key with master UUIDs, Decode maps them back to the ids of the
// consuming service. Both directions go through the identity resolver on every
// call; nothing is cached.
package codec

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	"github.com/drblury/syncflow/internal/identity"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
)

var (
	ErrMissingIdentity = errors.New("syncflow: envelope carries no master uuid")
	ErrRecordMismatch  = errors.New("syncflow: record does not match notification")
)

// Codec is bound to the service it encodes for or decodes into.
type Codec struct {
	resolver identity.Resolver
	service  string
}

func New(resolver identity.Resolver, service string) (*Codec, error) {
	if resolver == nil {
		return nil, errspkg.ErrResolverRequired
	}
	if service == "" {
		return nil, errspkg.ErrServiceNameNeeded
	}
	return &Codec{resolver: resolver, service: service}, nil
}

// Service returns the name of the service the codec is bound to.
func (c *Codec) Service() string { return c.service }

// Encoded is the result of Encode.
type Encoded struct {
	Document envelope.Document
	// Created reports that a master identity was allocated for this change.
	Created bool
}

// Encode builds the envelope for n from rec and resolves its identities.
func (c *Codec) Encode(ctx context.Context, n entity.ChangeNotification, rec envelope.Record) (Encoded, error) {
	doc, err := c.Build(n, rec)
	if err != nil {
		return Encoded{}, err
	}
	created, err := c.Resolve(ctx, n, doc)
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{Document: doc, Created: created}, nil
}

// Build maps rec onto a fresh envelope for n without touching the resolver.
// Foreign keys still hold source-local ids and the id element is empty.
// Delete ignores rec and renders every entity field empty.
func (c *Codec) Build(n entity.ChangeNotification, rec envelope.Record) (envelope.Document, error) {
	if !n.Kind().Valid() {
		return nil, fmt.Errorf("%w: %s", envelope.ErrUnknownKind, n.Kind())
	}
	doc, err := envelope.New(n.Type)
	if err != nil {
		return nil, err
	}
	if n.Operation != entity.Delete {
		if rec == nil || rec.Type() != n.Type {
			return nil, fmt.Errorf("%w: %s %s", ErrRecordMismatch, n.Kind(), n.SourceID)
		}
		if err := fill(doc.Payload(), rec); err != nil {
			return nil, err
		}
	}
	*doc.Head() = envelope.Header{
		RoutingKey: entity.RoutingKey(n.Type, c.service),
		Operation:  n.Operation.String(),
	}
	return doc, nil
}

// Resolve replaces the local ids in doc with master UUIDs. Create allocates
// a master identity unless one already exists for the source id. Update and
// delete only look it up; when none exists the id stays empty and schema
// validation rejects the envelope. Unknown foreign keys render empty.
func (c *Codec) Resolve(ctx context.Context, n entity.ChangeNotification, doc envelope.Document) (created bool, err error) {
	var master string
	switch n.Operation {
	case entity.Create:
		master, created, err = identity.EnsureMaster(ctx, c.resolver, c.service, n.SourceID)
	default:
		master, _, err = c.resolver.GetMasterUUID(ctx, c.service, n.SourceID)
	}
	if err != nil {
		return false, fmt.Errorf("resolve %s %s: %w", n.Type, n.SourceID, err)
	}

	for _, fk := range foreignKeys(doc.Payload()) {
		if *fk == "" {
			continue
		}
		id, _, err := c.resolver.GetMasterUUID(ctx, c.service, *fk)
		if err != nil {
			return created, fmt.Errorf("resolve foreign key %s of %s %s: %w", *fk, n.Type, n.SourceID, err)
		}
		*fk = id
	}
	doc.Head().ID = master
	return created, nil
}

// Decoded carries the adapter arguments for one envelope.
type Decoded struct {
	Kind       entity.Kind
	MasterUUID string
	// LocalID is the entity's id in this service; empty when Found is false.
	LocalID string
	Found   bool
	// Fields is a pointer to a copy of the envelope payload with foreign keys
	// mapped to this service's ids. References to entities the service does
	// not know are empty.
	Fields any
}

// Decode resolves doc for this service. The envelope itself is not modified.
func (c *Codec) Decode(ctx context.Context, doc envelope.Document) (Decoded, error) {
	kind, err := envelope.Kind(doc)
	if err != nil {
		return Decoded{}, err
	}
	master := doc.Head().ID
	if master == "" {
		return Decoded{}, fmt.Errorf("%w: %s", ErrMissingIdentity, kind)
	}

	out := Decoded{Kind: kind, MasterUUID: master}
	out.LocalID, out.Found, err = c.resolver.GetServiceID(ctx, c.service, master)
	if err != nil {
		return Decoded{}, fmt.Errorf("resolve %s %s: %w", kind.Type, master, err)
	}

	out.Fields = clonePayload(doc.Payload())
	for _, fk := range foreignKeys(out.Fields) {
		if *fk == "" {
			continue
		}
		local, _, err := c.resolver.GetServiceID(ctx, c.service, *fk)
		if err != nil {
			return Decoded{}, fmt.Errorf("resolve foreign key %s of %s %s: %w", *fk, kind.Type, master, err)
		}
		*fk = local
	}
	return out, nil
}
