// Package jsoncodec is the single JSON entry point of syncflow. The identity
// service and the source system REST API both speak JSON; both go through
// sonic configured for encoding/json compatibility.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Decode reads a single JSON value from r.
func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
