package model

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed event.schema.json
var eventSchemaJSON string

var (
	eventSchemaOnce sync.Once
	eventSchema     *jsonschema.Schema
	eventSchemaErr  error
)

func compiledEventSchema() (*jsonschema.Schema, error) {
	eventSchemaOnce.Do(func() {
		eventSchema, eventSchemaErr = jsonschema.CompileString("event.schema.json", eventSchemaJSON)
	})
	return eventSchema, eventSchemaErr
}

// ParseEvent validates raw against the event envelope schema and decodes
// it. Used wherever events cross a file boundary.
func ParseEvent(raw []byte) (Event, error) {
	schema, err := compiledEventSchema()
	if err != nil {
		return Event{}, fmt.Errorf("compile event schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Event{}, fmt.Errorf("%w: event is not valid JSON: %v", ErrStorage, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Event{}, fmt.Errorf("%w: event does not match schema: %v", ErrStorage, err)
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", ErrStorage, err)
	}
	return e, nil
}
