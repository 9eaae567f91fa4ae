package module

import "context"

// Registry is the persistence contract for module definitions. Implementations
// key definitions by (name, type) and must make RegisterNew a single atomic
// register-if-absent operation; two concurrent registrations for the same key
// must not both report true.
//
// Find methods return a nil pointer (or empty slice) for absent definitions;
// the error return is reserved for store failures.
type Registry interface {
	FindDefinition(ctx context.Context, name string, typ ModuleType) (*Definition, error)
	FindDefinitionsByName(ctx context.Context, name string) ([]Definition, error)
	FindDefinitionsByType(ctx context.Context, typ ModuleType) ([]Definition, error)
	FindDefinitions(ctx context.Context) ([]Definition, error)

	// RegisterNew inserts def if no definition holds its key yet. The
	// boolean reports whether the insert took place.
	RegisterNew(ctx context.Context, def Definition) (bool, error)

	// Delete removes the definition. The boolean reports whether a row was
	// removed; false covers both a missing key and a definition the store
	// refuses to delete by policy.
	Delete(ctx context.Context, def Definition) (bool, error)
}

// DependencyIndex records which definitions reference which. Edges are
// written when a composed definition is registered and removed when the
// owning definition is deleted; the core only ever reads them.
type DependencyIndex interface {
	DependentsOf(ctx context.Context, name string, typ ModuleType) ([]ModuleKey, error)
}

// PipelineParser turns a pipeline expression into ordered step descriptors,
// resolving each step name against the registry. It fails with SyntaxError
// for malformed expressions and UnresolvedReferenceError for names that
// match no registered module usable at their position.
type PipelineParser interface {
	Parse(ctx context.Context, name, definition string) ([]StepDescriptor, error)
}
