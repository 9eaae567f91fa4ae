// Package module implements the definition registry core for stream modules:
// typed, versionable units of processing logic that are either uploaded as
// opaque binaries or composed from a pipeline of already-registered modules.
package module

import (
	"fmt"
	"time"
)

// ModuleType classifies a module by the channels it exposes.
type ModuleType string

const (
	// TypeSource produces data and exposes no input channel.
	TypeSource ModuleType = "source"
	// TypeProcessor consumes and produces data.
	TypeProcessor ModuleType = "processor"
	// TypeSink consumes data and exposes no output channel.
	TypeSink ModuleType = "sink"
	// TypeJob is a standalone batch unit; it never participates in
	// boundary inference beyond single-step composition.
	TypeJob ModuleType = "job"
)

// compositionRank orders types along the data flow: a source sits before a
// processor, which sits before a sink. The ordering carries channel
// semantics, not priority.
var compositionRank = map[ModuleType]int{
	TypeSource:    0,
	TypeProcessor: 1,
	TypeSink:      2,
	TypeJob:       3,
}

// ParseModuleType converts a wire-level string into a ModuleType.
func ParseModuleType(s string) (ModuleType, bool) {
	t := ModuleType(s)
	_, ok := compositionRank[t]
	return t, ok
}

// Valid reports whether t is one of the known module types.
func (t ModuleType) Valid() bool {
	_, ok := compositionRank[t]
	return ok
}

// ModuleKey is the registry identity of a definition. Name alone is not
// unique; the same name may be registered once per type.
type ModuleKey struct {
	Name string     `json:"name"`
	Type ModuleType `json:"type"`
}

func (k ModuleKey) String() string {
	return string(k.Type) + ":" + k.Name
}

// DefinitionKind discriminates the two definition payload shapes.
type DefinitionKind string

const (
	// KindOpaque marks a definition uploaded as raw bytes.
	KindOpaque DefinitionKind = "opaque"
	// KindComposed marks a definition built from a pipeline of other
	// definitions.
	KindComposed DefinitionKind = "composed"
)

// Definition is a registered module definition. It is immutable once
// registered; replacement is always delete-then-register under force.
//
// The payload is a tagged variant on Kind: opaque definitions carry Bytes,
// composed definitions carry DSL plus the resolved Steps, in pipeline order.
type Definition struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      ModuleType     `json:"type"`
	Kind      DefinitionKind `json:"kind"`
	Bytes     []byte         `json:"-"`
	DSL       string         `json:"dsl,omitempty"`
	Steps     []Definition   `json:"steps,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Key returns the registry identity of the definition.
func (d Definition) Key() ModuleKey {
	return ModuleKey{Name: d.Name, Type: d.Type}
}

func (d Definition) String() string {
	return fmt.Sprintf("%s definition %s:%s", d.Kind, d.Type, d.Name)
}

// StepDescriptor is one element of a parsed pipeline: a reference to a
// registered module plus its position in the expression. Position is set by
// the parser from parse order and is the only ordering criterion; ties keep
// parse order.
type StepDescriptor struct {
	Name     string
	Type     ModuleType
	Position int
}

func (s StepDescriptor) String() string {
	return fmt.Sprintf("%s:%s@%d", s.Type, s.Name, s.Position)
}
