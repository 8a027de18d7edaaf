package models

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/service_document.json
var serviceDocumentSchema []byte

//go:embed schemas/error.json
var errorSchema []byte

//go:embed schemas/collection.json
var collectionSchema []byte

// payloadSchema compiles its embedded document on first use.
type payloadSchema struct {
	name string
	raw  []byte

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

var (
	serviceDocument = &payloadSchema{name: "service document", raw: serviceDocumentSchema}
	errorPayload    = &payloadSchema{name: "error", raw: errorSchema}
	collection      = &payloadSchema{name: "collection", raw: collectionSchema}
)

func (s *payloadSchema) schema() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		s.compiled, s.err = jsonschema.NewCompiler().Compile(s.raw)
		if s.err != nil {
			s.err = fmt.Errorf("compile %s schema: %w", s.name, s.err)
		}
	})
	return s.compiled, s.err
}

func (s *payloadSchema) validate(raw []byte) error {
	if !json.Valid(raw) {
		return errors.New("response is not valid JSON")
	}
	schema, err := s.schema()
	if err != nil {
		return err
	}
	result := schema.ValidateJSON(raw)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%s does not match the JSON format: %v", s.name, result.Errors)
}

// ValidateServiceDocument checks a JSON service document against the shape
// required by the JSON format: an @odata.context ending in $metadata and a
// value array of named resources with URLs and known kinds.
func ValidateServiceDocument(raw []byte) error {
	return serviceDocument.validate(raw)
}

// ValidateErrorPayload checks an error response body: a single "error"
// object with a string code and a message that is either a string or a
// {"value": ...} object.
func ValidateErrorPayload(raw []byte) error {
	return errorPayload.validate(raw)
}

// ValidateCollection checks a collection response body: an object whose
// "value" is an array of objects.
func ValidateCollection(raw []byte) error {
	return collection.validate(raw)
}
