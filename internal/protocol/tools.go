package protocol

import (
	"encoding/json"
	"sort"
)

// ToolDescriptor identifies one callable action exposed by a tool server.
// Immutable once registered; re-registering the same qualified name replaces
// the earlier entry.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"input_schema"`
	ServerName  string `json:"server_name"`
}

// QualifiedName returns the catalog key, "server:tool".
func (t ToolDescriptor) QualifiedName() string {
	return t.ServerName + ":" + t.Name
}

// Schema is the declared input-argument schema of a tool.
type Schema struct {
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// PropertyNames returns the schema's property keys in sorted order.
func (s Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasProperty reports whether name is declared in the schema.
func (s Schema) HasProperty(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// ParseSchema decodes a raw inputSchema value leniently: anything that does
// not parse yields an empty schema rather than an error, since a tool with a
// broken schema is still callable.
func ParseSchema(raw json.RawMessage) Schema {
	if len(raw) == 0 {
		return Schema{}
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return Schema{}
	}
	return s
}

// ToolListResult is the result payload of a tools/list response.
type ToolListResult struct {
	Tools []ToolDef `json:"tools"`
}

// ToolDef is one entry of a tools/list response.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallParams is the params payload of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// InitializeParams is the params payload of the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
