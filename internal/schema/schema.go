// Package schema validates canonical envelopes against their XML schemas
// before anything leaves the process.
//
// The validator understands the subset of XML Schema the envelope schemas are
// written in (see xsd.go). Schemas are embedded in the binary and can be
// replaced from a directory so operators can roll out a new schema version
// without a rebuild.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

//go:embed xsd/*.xsd
var embedded embed.FS

var ErrUnknownSchema = errors.New("syncflow: no schema registered for root element")

// InvalidError lists every violation found in a document.
type InvalidError struct {
	Root     string
	Problems []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s document: %s", e.Root, strings.Join(e.Problems, "; "))
}

// Validator is the veto point used by the publisher, the heartbeat and the log shipper.
type Validator interface {
	Validate(root string, document []byte) error
}

// Registry maps a root element name (user, company, Heartbeat, ...) to its
// compiled declaration. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	roots map[string]*node
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{roots: make(map[string]*node)}
}

// Default returns a registry loaded with the embedded schemas.
func Default() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadFS(embedded, "xsd"); err != nil {
		return nil, err
	}
	return r, nil
}

// Load returns the embedded schemas, overridden by every *.xsd file found in
// dir when dir is not empty.
func Load(dir string) (*Registry, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return r, nil
	}
	if err := r.LoadFS(os.DirFS(dir), "."); err != nil {
		return nil, fmt.Errorf("load schemas from %s: %w", dir, err)
	}
	return r, nil
}

// LoadFS registers every *.xsd file below root. Later files replace earlier
// declarations of the same root element.
func (r *Registry) LoadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xsd") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return err
		}
		if err := r.Add(data); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Add compiles an XSD document and registers its global elements.
func (r *Registry) Add(xsd []byte) error {
	roots, err := parseSchema(xsd)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, decl := range roots {
		r.roots[name] = decl
	}
	return nil
}

// Roots lists the registered root element names.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roots))
	for name := range r.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks document against the schema of root. The document's own
// root element must carry that name.
func (r *Registry) Validate(root string, document []byte) error {
	r.mu.RLock()
	decl, ok := r.roots[root]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSchema, root)
	}

	inst, err := parseInstance(document)
	if err != nil {
		return &InvalidError{Root: root, Problems: []string{"malformed xml: " + err.Error()}}
	}
	if inst.name != root {
		return &InvalidError{Root: root, Problems: []string{fmt.Sprintf("root element is %q, expected %q", inst.name, root)}}
	}

	v := &validator{}
	v.element(decl, inst)
	if len(v.problems) > 0 {
		return &InvalidError{Root: root, Problems: v.problems}
	}
	return nil
}
