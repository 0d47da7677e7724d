// Package tools provides a metadata-driven registry for MCP tool definitions.
// Tools are defined declaratively in AllTools and bound to the Sefaria
// service through type-safe handlers.
package tools

// ToolSpec defines a tool's metadata for declarative registration.
// Each spec maps to a sefaria.Service method with matching Args type.
type ToolSpec struct {
	// Name is the MCP tool name (e.g., "get_text")
	Name string

	// Method is the service method name (e.g., "GetText")
	Method string

	// Description is the tool description shown to LLMs
	Description string

	// Title is the human-readable tool title for annotations
	Title string

	// Category groups tools logically (text, search, catalogue, etc.)
	Category string

	// ReadOnly indicates the tool doesn't modify library state
	ReadOnly bool

	// Destructive indicates the tool can delete or overwrite data
	Destructive bool

	// Idempotent indicates repeated calls have the same effect
	Idempotent bool

	// OpenWorld indicates the tool accesses external resources
	OpenWorld bool
}

// Lookup returns the spec registered under name.
func Lookup(name string) (ToolSpec, bool) {
	for _, spec := range AllTools {
		if spec.Name == name {
			return spec, true
		}
	}
	return ToolSpec{}, false
}

// ptr is a helper to create a pointer to a value.
func ptr[T any](v T) *T {
	return &v
}
