package archive

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// MetadataName is the optional batch descriptor stored next to the manifest.
const MetadataName = "metadata.yaml"

// Metadata is the parsed batch descriptor. Raw keeps the original bytes so
// the file can be copied unchanged.
type Metadata struct {
	Raw    []byte
	Values map[string]any
}

// ParseMetadata decodes a YAML batch descriptor.
func ParseMetadata(data []byte) (*Metadata, error) {
	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", MetadataName, err)
	}
	return &Metadata{Raw: data, Values: values}, nil
}

// MetaRunName is the descriptor key naming the batch.
const MetaRunName = "runName"

// Lookup returns a top-level string value.
func (m *Metadata) Lookup(key string) string {
	if s, ok := m.Values[key].(string); ok {
		return s
	}
	return ""
}
