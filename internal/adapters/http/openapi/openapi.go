// Package openapi serves the embedded OpenAPI document of the HTTP API.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/knadh/koanf/parsers/yaml"
)

// ErrDocument is returned when the embedded document cannot be parsed.
var ErrDocument = errors.New("openapi document invalid")

// Document contains the embedded OpenAPI YAML specification.
//
//go:embed openapi.yaml
var Document []byte

// JSON returns the document converted to JSON.
func JSON() ([]byte, error) {
	doc, err := yaml.Parser().Unmarshal(Document)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocument, err)
	}
	return json.Marshal(doc)
}

// Register attaches the document routes to mux:
//
//	GET /openapi.yaml -> embedded document
//	GET /openapi.json -> the same document as JSON
func Register(_ context.Context, mux *http.ServeMux) error {
	if mux == nil {
		panic("mux is nil")
	}
	asJSON, err := JSON()
	if err != nil {
		return err
	}

	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(Document)
	})
	mux.HandleFunc("GET /openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(asJSON)
	})
	return nil
}
