package schema

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// instance is a parsed element of the document under validation.
type instance struct {
	name     string
	path     string
	text     strings.Builder
	children []*instance
}

func parseInstance(data []byte) (*instance, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		root  *instance
		stack []*instance
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &instance{name: t.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements")
				}
				root = el
				el.path = "/" + el.name
			} else {
				parent := stack[len(stack)-1]
				el.path = parent.path + "/" + el.name
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

type validator struct {
	problems []string
}

func (v *validator) fail(path, format string, args ...any) {
	v.problems = append(v.problems, path+": "+fmt.Sprintf(format, args...))
}

func (v *validator) element(decl *node, el *instance) {
	if decl.children == nil {
		if len(el.children) > 0 {
			v.fail(el.path, "element %q is not allowed here, simple content expected", el.children[0].name)
			return
		}
		v.simple(decl.simple, el)
		return
	}
	if strings.TrimSpace(el.text.String()) != "" {
		v.fail(el.path, "text content is not allowed in a complex element")
	}
	v.sequence(decl, el)
}

// sequence matches the children of el against the declared sequence in order.
func (v *validator) sequence(decl *node, el *instance) {
	i := 0
	for _, child := range decl.children {
		count := 0
		for i < len(el.children) && el.children[i].name == child.name {
			if child.max != unbounded && count >= child.max {
				break
			}
			v.element(child, el.children[i])
			count++
			i++
		}
		if count < child.min {
			v.fail(el.path, "missing element %q", child.name)
		}
	}
	for ; i < len(el.children); i++ {
		v.fail(el.children[i].path, "unexpected element %q", el.children[i].name)
	}
}

var (
	integerPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)
	timeLayouts    = []string{"15:04:05", "15:04:05.999999999", "15:04:05Z07:00", "15:04:05.999999999Z07:00"}
	dateLayouts    = []string{"2006-01-02", "2006-01-02Z07:00"}
	stampLayouts   = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999"}
)

func (v *validator) simple(st *simpleType, el *instance) {
	raw := el.text.String()
	value := raw
	if st.builtin != "string" {
		value = strings.TrimSpace(raw)
	}

	if !builtinValid(st.builtin, value) {
		v.fail(el.path, "value %q is not a valid xs:%s", value, st.builtin)
		return
	}
	length := utf8.RuneCountInString(value)
	if length < st.minLength {
		v.fail(el.path, "value %q is shorter than %d", value, st.minLength)
	}
	if st.maxLength >= 0 && length > st.maxLength {
		v.fail(el.path, "value %q is longer than %d", value, st.maxLength)
	}
	for _, re := range st.patterns {
		if !re.MatchString(value) {
			v.fail(el.path, "value %q does not match pattern %s", value, re.String())
		}
	}
	if len(st.enum) > 0 && !slices.Contains(st.enum, value) {
		v.fail(el.path, "value %q is not one of %v", value, st.enum)
	}
}

func builtinValid(builtin, value string) bool {
	switch builtin {
	case "string":
		return true
	case "integer":
		return integerPattern.MatchString(value)
	case "decimal":
		return decimalPattern.MatchString(value)
	case "boolean":
		return slices.Contains([]string{"true", "false", "1", "0"}, value)
	case "date":
		return parsesWithAny(dateLayouts, value)
	case "time":
		return parsesWithAny(timeLayouts, value)
	case "dateTime":
		return parsesWithAny(stampLayouts, value)
	}
	return false
}

func parsesWithAny(layouts []string, value string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
