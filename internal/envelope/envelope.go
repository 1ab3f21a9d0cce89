// Package envelope defines the canonical wire documents exchanged over the
// broker and the raw records read from the source system.
//
// Every document is element ordered: routing_key, crud_operation and id come
// first, followed by the entity specific fields. Empty values are rendered as
// empty elements and never omitted, so the schema can insist on every element
// being present.
package envelope

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/drblury/syncflow/internal/entity"
)

var ErrUnknownKind = errors.New("syncflow: unknown envelope kind")

// Header carries the three leading elements shared by every envelope.
type Header struct {
	RoutingKey string `xml:"routing_key"`
	Operation  string `xml:"crud_operation"`
	ID         string `xml:"id"`
}

// Document is one canonical envelope.
type Document interface {
	Head() *Header
	Type() entity.Type
	// Payload returns a pointer to the entity specific fields.
	Payload() any
}

// Kind returns the dispatch key of doc.
func Kind(doc Document) (entity.Kind, error) {
	op, err := entity.ParseOperation(doc.Head().Operation)
	if err != nil {
		return entity.Kind{}, fmt.Errorf("%w: %s/%q", ErrUnknownKind, doc.Type(), doc.Head().Operation)
	}
	return entity.Kind{Type: doc.Type(), Operation: op}, nil
}

// New returns an empty document for t.
func New(t entity.Type) (Document, error) {
	switch t {
	case entity.User:
		return &User{}, nil
	case entity.Company:
		return &Company{}, nil
	case entity.Event:
		return &Event{}, nil
	case entity.Attendance:
		return &Attendance{}, nil
	case entity.Product:
		return &Product{}, nil
	case entity.Order:
		return &Order{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, t)
}

// Parse decodes an envelope, choosing the document type from the root element.
// The root element name must match an entity type exactly.
func Parse(data []byte) (Document, error) {
	root, err := rootName(data)
	if err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	doc, err := New(entity.Type(root))
	if err != nil {
		return nil, err
	}
	if err := xml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse %s envelope: %w", root, err)
	}
	return doc, nil
}

// Marshal renders doc without an XML declaration.
func Marshal(doc Document) ([]byte, error) {
	data, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", doc.Type(), err)
	}
	return data, nil
}

func rootName(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", errors.New("empty document")
		}
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
