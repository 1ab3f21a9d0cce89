package envelope

import (
	"reflect"
	"strconv"
	"strings"
)

// Field is one leaf value of an envelope payload, named by its element path
// such as "address.zip" or "products.product[0].amount".
type Field struct {
	Name  string
	Value string
}

// Flatten lists every leaf of a payload struct in document order.
func Flatten(payload any) []Field {
	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	var out []Field
	flatten(v, "", &out)
	return out
}

// Patch returns the non-empty leaves of payload. Update envelopes are sparse,
// so an empty element means "unchanged" and must not reach the adapter.
func Patch(payload any) map[string]string {
	patch := make(map[string]string)
	for _, f := range Flatten(payload) {
		if f.Value != "" {
			patch[f.Name] = f.Value
		}
	}
	return patch
}

func flatten(v reflect.Value, prefix string, out *[]Field) {
	switch v.Kind() {
	case reflect.String:
		*out = append(*out, Field{Name: prefix, Value: v.String()})
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(sf.Tag.Get("xml"), ",")
			if name == "-" || sf.Name == "XMLName" {
				continue
			}
			if sf.Anonymous {
				flatten(v.Field(i), prefix, out)
				continue
			}
			if name == "" {
				name = sf.Name
			}
			flatten(v.Field(i), join(prefix, name), out)
		}
	case reflect.Slice:
		for i := range v.Len() {
			flatten(v.Index(i), prefix+"["+strconv.Itoa(i)+"]", out)
		}
	}
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
