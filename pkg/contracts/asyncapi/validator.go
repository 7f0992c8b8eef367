// Package asyncapi validates published event payloads against the AsyncAPI
// document of the service.
package asyncapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
)

const (
	schemasRef  = "#/components/schemas/"
	resourceURL = "asyncapi://purchasing/schemas.json"
)

type document struct {
	AsyncAPI   string `yaml:"asyncapi"`
	Components struct {
		Messages map[string]message `yaml:"messages"`
		Schemas  map[string]any     `yaml:"schemas"`
	} `yaml:"components"`
}

type message struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"contentType"`
	Payload     struct {
		Ref string `yaml:"$ref"`
	} `yaml:"payload"`
}

// EventValidator holds one compiled payload schema per event type.
type EventValidator struct {
	schemas      map[string]*jsonschema.Schema
	contentTypes map[string]string
}

// NewEventValidator compiles the payload schema of every message in the AsyncAPI document.
// Messages are keyed by their name, which is the CloudEvents type.
func NewEventValidator(spec []byte) (*EventValidator, error) {
	var doc document
	if err := yaml.Unmarshal(spec, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse AsyncAPI document: %w", err)
	}
	if !strings.HasPrefix(doc.AsyncAPI, "3.") {
		return nil, fmt.Errorf("unsupported AsyncAPI version %q", doc.AsyncAPI)
	}

	// Component schemas reference each other through #/components/schemas;
	// they are compiled as $defs of a single resource.
	raw, err := json.Marshal(map[string]any{"$defs": doc.Components.Schemas})
	if err != nil {
		return nil, fmt.Errorf("failed to encode schemas: %w", err)
	}
	raw = bytes.ReplaceAll(raw, []byte(`"`+schemasRef), []byte(`"#/$defs/`))
	resource, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)
	if err := compiler.AddResource(resourceURL, resource); err != nil {
		return nil, fmt.Errorf("failed to add schemas: %w", err)
	}

	v := &EventValidator{
		schemas:      make(map[string]*jsonschema.Schema, len(doc.Components.Messages)),
		contentTypes: make(map[string]string, len(doc.Components.Messages)),
	}
	for key, msg := range doc.Components.Messages {
		name, ok := strings.CutPrefix(msg.Payload.Ref, schemasRef)
		if msg.Name == "" || !ok {
			return nil, fmt.Errorf("message %s needs a name and a payload $ref", key)
		}
		schema, err := compiler.Compile(resourceURL + "#/$defs/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile payload of %s: %w", msg.Name, err)
		}
		v.schemas[msg.Name] = schema
		v.contentTypes[msg.Name] = msg.ContentType
	}
	return v, nil
}

// ValidatePayload checks data, marshaled as it would be on the wire,
// against the schema of eventType.
func (v *EventValidator) ValidatePayload(eventType string, data any) error {
	schema, ok := v.schemas[eventType]
	if !ok {
		return fmt.Errorf("no schema for event type %q", eventType)
	}
	if data == nil {
		return fmt.Errorf("%s: event data is required", eventType)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", eventType, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to decode %s data: %w", eventType, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%s data is invalid: %w", eventType, err)
	}
	return nil
}

// ValidateCloudEvent checks the envelope attributes and the payload.
func (v *EventValidator) ValidateCloudEvent(event *cloudevents.PurchasingCloudEvent) error {
	switch {
	case event == nil:
		return fmt.Errorf("event is nil")
	case event.SpecVersion != cloudevents.SpecVersion:
		return fmt.Errorf("unsupported specversion %q", event.SpecVersion)
	case event.ID == "" || event.Source == "" || event.Type == "":
		return fmt.Errorf("event %q is missing id, source or type", event.ID)
	}
	if want := v.contentTypes[event.Type]; want != "" && event.DataContentType != want {
		return fmt.Errorf("%s: datacontenttype %q, want %q", event.Type, event.DataContentType, want)
	}
	return v.ValidatePayload(event.Type, event.Data)
}

// ValidateCloudEventJSON validates a structured-mode event.
func (v *EventValidator) ValidateCloudEventJSON(b []byte) error {
	var event cloudevents.PurchasingCloudEvent
	if err := json.Unmarshal(b, &event); err != nil {
		return fmt.Errorf("failed to parse CloudEvent: %w", err)
	}
	return v.ValidateCloudEvent(&event)
}

func (v *EventValidator) HasSchema(eventType string) bool {
	_, ok := v.schemas[eventType]
	return ok
}

// EventTypes lists the documented event types, sorted.
func (v *EventValidator) EventTypes() []string {
	types := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
