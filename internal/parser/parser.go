// Package parser turns pipe-delimited stream expressions such as
// "http | transform | log" into ordered step descriptors over modules
// already present in the registry.
package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/StreamWeave/module_registry/internal/module"
)

var stepLabelPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// StreamParser resolves pipeline expressions against a module registry.
type StreamParser struct {
	registry module.Registry
}

// New constructs a parser over the given registry.
func New(registry module.Registry) *StreamParser {
	return &StreamParser{registry: registry}
}

// Parse splits definition on pipes, validates each step label and resolves
// it to a registered module. The types a step may resolve to depend on its
// position: the first step of a multi-step pipeline must be a source or a
// processor, the last a sink or a processor, interior steps processors only.
// A single-step pipeline accepts any type. Resolution prefers the
// boundary-specific type when a name is registered under several.
func (p *StreamParser) Parse(ctx context.Context, name, definition string) ([]module.StepDescriptor, error) {
	trimmed := strings.TrimSpace(definition)
	if trimmed == "" {
		return nil, &module.SyntaxError{Definition: definition, Reason: "empty definition"}
	}

	raw := strings.Split(trimmed, "|")
	steps := make([]module.StepDescriptor, 0, len(raw))
	for i, expr := range raw {
		label, err := stepLabel(definition, expr)
		if err != nil {
			return nil, err
		}
		if label == name {
			return nil, &module.SyntaxError{Definition: definition, Reason: "module cannot reference itself"}
		}

		typ, err := p.resolve(ctx, label, i, len(raw))
		if err != nil {
			return nil, err
		}
		steps = append(steps, module.StepDescriptor{Name: label, Type: typ, Position: i})
	}
	return steps, nil
}

// stepLabel extracts and validates the module name of one pipeline step.
// Anything after the label is treated as step options and ignored here;
// option binding belongs to deployment, not definition.
func stepLabel(definition, expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return "", &module.SyntaxError{Definition: definition, Reason: "empty step"}
	}
	label := fields[0]
	if !stepLabelPattern.MatchString(label) {
		return "", &module.SyntaxError{Definition: definition, Reason: fmt.Sprintf("invalid module name %q", label)}
	}
	return label, nil
}

// resolve finds the registered type for label given its pipeline position.
func (p *StreamParser) resolve(ctx context.Context, label string, position, total int) (module.ModuleType, error) {
	for _, typ := range candidateTypes(position, total) {
		def, err := p.registry.FindDefinition(ctx, label, typ)
		if err != nil {
			return "", err
		}
		if def != nil {
			return typ, nil
		}
	}
	return "", &module.UnresolvedReferenceError{Module: label, Position: position}
}

func candidateTypes(position, total int) []module.ModuleType {
	switch {
	case total == 1:
		return []module.ModuleType{
			module.TypeSource, module.TypeProcessor, module.TypeSink, module.TypeJob,
		}
	case position == 0:
		return []module.ModuleType{module.TypeSource, module.TypeProcessor}
	case position == total-1:
		return []module.ModuleType{module.TypeSink, module.TypeProcessor}
	default:
		return []module.ModuleType{module.TypeProcessor}
	}
}
