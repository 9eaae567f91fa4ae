package module

import "sort"

// DetermineType derives the composite type of a pipeline from its step
// descriptors.
//
// A single-step pipeline has that step's type. Longer pipelines are typed
// from their boundaries only: interior steps never influence the result.
// A pipeline that neither begins with a source nor ends with a sink exposes
// both channels and is a processor; one that begins with a source but does
// not end with a sink still produces outward and is a source; the mirror
// case is a sink. A pipeline that both begins with a source and ends with a
// sink exposes no channel at all and cannot be composed into a module.
func DetermineType(steps []StepDescriptor) (ModuleType, error) {
	if len(steps) == 0 {
		return "", &InvalidCompositionError{Reason: "at least one module required"}
	}
	if len(steps) == 1 {
		return steps[0].Type, nil
	}

	ordered := make([]StepDescriptor, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	hasInput := ordered[0].Type != TypeSource
	hasOutput := ordered[len(ordered)-1].Type != TypeSink
	switch {
	case hasInput && hasOutput:
		return TypeProcessor, nil
	case hasInput:
		return TypeSink, nil
	case hasOutput:
		return TypeSource, nil
	default:
		return "", &InvalidCompositionError{Reason: "must expose an input and/or output channel"}
	}
}
