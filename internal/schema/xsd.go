package schema

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The structs below mirror the subset of XML Schema used by the canonical
// envelope schemas: global elements, anonymous complex types holding one
// sequence, named or inline simple types restricted by length, pattern and
// enumeration facets, and the built-in xs: scalar types.

type xsdSchema struct {
	Elements    []xsdElement    `xml:"element"`
	SimpleTypes []xsdSimpleType `xml:"simpleType"`
}

type xsdElement struct {
	Name        string          `xml:"name,attr"`
	Type        string          `xml:"type,attr"`
	MinOccurs   string          `xml:"minOccurs,attr"`
	MaxOccurs   string          `xml:"maxOccurs,attr"`
	ComplexType *xsdComplexType `xml:"complexType"`
	SimpleType  *xsdSimpleType  `xml:"simpleType"`
}

type xsdComplexType struct {
	Sequence *xsdSequence `xml:"sequence"`
}

type xsdSequence struct {
	Elements []xsdElement `xml:"element"`
}

type xsdSimpleType struct {
	Name        string          `xml:"name,attr"`
	Restriction *xsdRestriction `xml:"restriction"`
}

type xsdRestriction struct {
	Base         string     `xml:"base,attr"`
	MinLength    *xsdFacet  `xml:"minLength"`
	MaxLength    *xsdFacet  `xml:"maxLength"`
	Patterns     []xsdFacet `xml:"pattern"`
	Enumerations []xsdFacet `xml:"enumeration"`
}

type xsdFacet struct {
	Value string `xml:"value,attr"`
}

const unbounded = -1

// node is a compiled element declaration.
type node struct {
	name     string
	min, max int
	children []*node // nil for simple content
	simple   *simpleType
}

type simpleType struct {
	name      string
	builtin   string
	minLength int
	maxLength int
	patterns  []*regexp.Regexp
	enum      []string
}

func parseSchema(data []byte) (map[string]*node, error) {
	var doc xsdSchema
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	named := make(map[string]*simpleType, len(doc.SimpleTypes))
	for _, st := range doc.SimpleTypes {
		compiled, err := compileSimpleType(st, named)
		if err != nil {
			return nil, err
		}
		named[st.Name] = compiled
	}

	roots := make(map[string]*node, len(doc.Elements))
	for _, el := range doc.Elements {
		compiled, err := compileElement(el, named)
		if err != nil {
			return nil, fmt.Errorf("element %q: %w", el.Name, err)
		}
		roots[el.Name] = compiled
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("parse schema: no global element declared")
	}
	return roots, nil
}

func compileElement(el xsdElement, named map[string]*simpleType) (*node, error) {
	if el.Name == "" {
		return nil, fmt.Errorf("element without name")
	}
	n := &node{name: el.Name, min: 1, max: 1}
	var err error
	if n.min, err = parseOccurs(el.MinOccurs, 1); err != nil {
		return nil, err
	}
	if n.max, err = parseOccurs(el.MaxOccurs, 1); err != nil {
		return nil, err
	}

	switch {
	case el.ComplexType != nil:
		n.children = []*node{}
		if el.ComplexType.Sequence == nil {
			return n, nil
		}
		for _, child := range el.ComplexType.Sequence.Elements {
			compiled, err := compileElement(child, named)
			if err != nil {
				return nil, fmt.Errorf("%s/%w", el.Name, err)
			}
			n.children = append(n.children, compiled)
		}
	case el.SimpleType != nil:
		n.simple, err = compileSimpleType(*el.SimpleType, named)
		if err != nil {
			return nil, err
		}
	default:
		n.simple, err = resolveType(el.Type, named)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

func compileSimpleType(st xsdSimpleType, named map[string]*simpleType) (*simpleType, error) {
	if st.Restriction == nil {
		return nil, fmt.Errorf("simple type %q: only restrictions are supported", st.Name)
	}
	base, err := resolveType(st.Restriction.Base, named)
	if err != nil {
		return nil, fmt.Errorf("simple type %q: %w", st.Name, err)
	}
	out := *base
	out.name = st.Name
	out.patterns = append([]*regexp.Regexp(nil), base.patterns...)
	out.enum = append([]string(nil), base.enum...)

	r := st.Restriction
	if r.MinLength != nil {
		if out.minLength, err = strconv.Atoi(r.MinLength.Value); err != nil {
			return nil, fmt.Errorf("simple type %q: minLength: %w", st.Name, err)
		}
	}
	if r.MaxLength != nil {
		if out.maxLength, err = strconv.Atoi(r.MaxLength.Value); err != nil {
			return nil, fmt.Errorf("simple type %q: maxLength: %w", st.Name, err)
		}
	}
	for _, p := range r.Patterns {
		re, err := regexp.Compile("^(?:" + p.Value + ")$")
		if err != nil {
			return nil, fmt.Errorf("simple type %q: pattern: %w", st.Name, err)
		}
		out.patterns = append(out.patterns, re)
	}
	if len(r.Enumerations) > 0 {
		out.enum = out.enum[:0]
		for _, e := range r.Enumerations {
			out.enum = append(out.enum, e.Value)
		}
	}
	return &out, nil
}

var builtins = map[string]bool{
	"string":   true,
	"integer":  true,
	"decimal":  true,
	"boolean":  true,
	"date":     true,
	"time":     true,
	"dateTime": true,
}

func resolveType(ref string, named map[string]*simpleType) (*simpleType, error) {
	if ref == "" {
		return &simpleType{builtin: "string", maxLength: -1}, nil
	}
	if prefix, local, ok := strings.Cut(ref, ":"); ok && (prefix == "xs" || prefix == "xsd") {
		if !builtins[local] {
			return nil, fmt.Errorf("unsupported built-in type %q", ref)
		}
		return &simpleType{name: ref, builtin: local, maxLength: -1}, nil
	}
	if st, ok := named[ref]; ok {
		return st, nil
	}
	return nil, fmt.Errorf("unknown type %q", ref)
}

func parseOccurs(raw string, def int) (int, error) {
	switch raw {
	case "":
		return def, nil
	case "unbounded":
		return unbounded, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid occurrence %q", raw)
	}
	return v, nil
}
