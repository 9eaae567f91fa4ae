package module

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// fakeParser serves canned step descriptors keyed by pipeline expression.
type fakeParser struct {
	steps map[string][]StepDescriptor
}

func (f *fakeParser) Parse(ctx context.Context, name, definition string) ([]StepDescriptor, error) {
	steps, ok := f.steps[definition]
	if !ok {
		return nil, &SyntaxError{Definition: definition, Reason: "unknown expression"}
	}
	return steps, nil
}

// conflictRegistry simulates a racing writer: the guard sees a free slot but
// the atomic insert loses.
type conflictRegistry struct {
	Registry
}

func (c *conflictRegistry) RegisterNew(ctx context.Context, def Definition) (bool, error) {
	return false, nil
}

// stubbornRegistry refuses deletes, like a store holding read-only entries.
type stubbornRegistry struct {
	Registry
}

func (s *stubbornRegistry) Delete(ctx context.Context, def Definition) (bool, error) {
	return false, nil
}

func seedOpaque(t *testing.T, store *MemoryStore, name string, typ ModuleType) Definition {
	t.Helper()
	def := Definition{Name: name, Type: typ, Kind: KindOpaque, Bytes: []byte("payload")}
	ok, err := store.RegisterNew(context.Background(), def)
	if err != nil || !ok {
		t.Fatalf("seed %s:%s: ok=%v err=%v", typ, name, ok, err)
	}
	return def
}

func newTestService(store *MemoryStore, parser PipelineParser) *Service {
	return New(store, parser, store, nil)
}

func pipelineSteps() map[string][]StepDescriptor {
	return map[string][]StepDescriptor{
		"feed | transform": {
			{Name: "feed", Type: TypeSource, Position: 0},
			{Name: "transform", Type: TypeProcessor, Position: 1},
		},
		"transform | log": {
			{Name: "transform", Type: TypeProcessor, Position: 0},
			{Name: "log", Type: TypeSink, Position: 1},
		},
		"feed | log": {
			{Name: "feed", Type: TypeSource, Position: 0},
			{Name: "log", Type: TypeSink, Position: 1},
		},
	}
}

func seedPipelineModules(t *testing.T, store *MemoryStore) {
	t.Helper()
	seedOpaque(t, store, "feed", TypeSource)
	seedOpaque(t, store, "transform", TypeProcessor)
	seedOpaque(t, store, "log", TypeSink)
}

func TestService_ComposeRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := newTestService(store, &fakeParser{steps: pipelineSteps()})

	def, err := svc.Compose(context.Background(), "enricher", "", "feed | transform", false)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if def.Type != TypeSource {
		t.Fatalf("inferred type %s, want source", def.Type)
	}
	if def.Kind != KindComposed {
		t.Fatalf("kind %s, want composed", def.Kind)
	}

	found, err := svc.FindDefinition(context.Background(), "enricher", TypeSource)
	if err != nil {
		t.Fatalf("find after compose: %v", err)
	}
	if found.DSL != "feed | transform" {
		t.Fatalf("stored DSL %q", found.DSL)
	}
	if len(found.Steps) != 2 || found.Steps[0].Name != "feed" || found.Steps[1].Name != "transform" {
		t.Fatalf("stored steps %v", found.Steps)
	}
}

func TestService_Compose_TypeHintIgnored(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := newTestService(store, &fakeParser{steps: pipelineSteps()})

	def, err := svc.Compose(context.Background(), "tap", TypeJob, "feed | transform", false)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if def.Type != TypeSource {
		t.Fatalf("type hint was honored: got %s", def.Type)
	}
}

func TestService_Compose_AlreadyExists(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := newTestService(store, &fakeParser{steps: pipelineSteps()})

	if _, err := svc.Compose(context.Background(), "enricher", "", "feed | transform", false); err != nil {
		t.Fatalf("first compose: %v", err)
	}
	_, err := svc.Compose(context.Background(), "enricher", "", "feed | transform", false)
	if !IsAlreadyExists(err) {
		t.Fatalf("expected AlreadyExistsError, got %v", err)
	}

	// The original registration is untouched.
	found, err := svc.FindDefinition(context.Background(), "enricher", TypeSource)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Kind != KindComposed {
		t.Fatalf("original definition replaced: kind %s", found.Kind)
	}
}

func TestService_Compose_InvalidComposition(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := newTestService(store, &fakeParser{steps: pipelineSteps()})

	_, err := svc.Compose(context.Background(), "closed", "", "feed | log", false)
	if !IsInvalidComposition(err) {
		t.Fatalf("expected InvalidCompositionError, got %v", err)
	}
	if _, err := svc.FindDefinition(context.Background(), "closed", TypeProcessor); !IsNotFound(err) {
		t.Fatalf("store mutated by failed compose: %v", err)
	}
}

func TestService_Compose_RegistrationConflict(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := New(&conflictRegistry{Registry: store}, &fakeParser{steps: pipelineSteps()}, store, nil)

	_, err := svc.Compose(context.Background(), "enricher", "", "feed | transform", false)
	if !IsConflict(err) {
		t.Fatalf("expected RegistrationConflictError, got %v", err)
	}
}

func TestService_UploadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, &fakeParser{})

	payload := []byte{0xCA, 0xFE, 0xBA, 0xBE}
	def, err := svc.Upload(context.Background(), "custom", TypeProcessor, payload, false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if def.Kind != KindOpaque {
		t.Fatalf("kind %s, want opaque", def.Kind)
	}

	found, err := svc.FindDefinition(context.Background(), "custom", TypeProcessor)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !bytes.Equal(found.Bytes, payload) {
		t.Fatalf("payload mangled: %v", found.Bytes)
	}
}

func TestService_Upload_SameNameDifferentType(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, &fakeParser{})

	if _, err := svc.Upload(context.Background(), "tick", TypeSource, []byte("a"), false); err != nil {
		t.Fatalf("upload source: %v", err)
	}
	// Name is only unique per type; no force needed.
	if _, err := svc.Upload(context.Background(), "tick", TypeProcessor, []byte("b"), false); err != nil {
		t.Fatalf("upload processor under same name: %v", err)
	}
}

func TestService_Upload_ForceReplacesComposed(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := newTestService(store, &fakeParser{steps: pipelineSteps()})

	if _, err := svc.Compose(context.Background(), "archiver", "", "transform | log", false); err != nil {
		t.Fatalf("compose: %v", err)
	}

	def, err := svc.Upload(context.Background(), "archiver", TypeSink, []byte("bin"), true)
	if err != nil {
		t.Fatalf("force upload over composed: %v", err)
	}
	if def.Kind != KindOpaque {
		t.Fatalf("kind %s, want opaque", def.Kind)
	}

	found, err := svc.FindDefinition(context.Background(), "archiver", TypeSink)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Kind != KindOpaque || found.DSL != "" {
		t.Fatalf("old composed definition survived: %+v", found)
	}
}

func TestService_Upload_WithoutForceCollides(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, &fakeParser{})

	if _, err := svc.Upload(context.Background(), "dup", TypeSink, []byte("a"), false); err != nil {
		t.Fatalf("upload: %v", err)
	}
	_, err := svc.Upload(context.Background(), "dup", TypeSink, []byte("b"), false)
	if !IsAlreadyExists(err) {
		t.Fatalf("expected AlreadyExistsError, got %v", err)
	}
}

func TestService_Upload_ForceBlockedByDependents(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := newTestService(store, &fakeParser{steps: pipelineSteps()})

	if _, err := svc.Compose(context.Background(), "archiver", "", "transform | log", false); err != nil {
		t.Fatalf("compose: %v", err)
	}

	_, err := svc.Upload(context.Background(), "transform", TypeProcessor, []byte("bin"), true)
	if !IsInUse(err) {
		t.Fatalf("expected InUseError, got %v", err)
	}
	var inUse *InUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("expected *InUseError, got %T", err)
	}
	want := ModuleKey{Name: "archiver", Type: TypeSink}
	if len(inUse.Dependents) != 1 || inUse.Dependents[0] != want {
		t.Fatalf("dependents %v, want [%s]", inUse.Dependents, want)
	}
}

func TestService_Upload_EagerDeleteRefused(t *testing.T) {
	store := NewMemoryStore()
	seedOpaque(t, store, "locked", TypeSink)
	svc := New(&stubbornRegistry{Registry: store}, &fakeParser{}, store, nil)

	_, err := svc.Upload(context.Background(), "locked", TypeSink, []byte("new"), true)
	if !IsAlreadyExists(err) {
		t.Fatalf("expected AlreadyExistsError for refused eager delete, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	store := NewMemoryStore()
	seedOpaque(t, store, "feed", TypeSource)
	svc := newTestService(store, &fakeParser{})

	if err := svc.Delete(context.Background(), "feed", TypeSource); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.FindDefinition(context.Background(), "feed", TypeSource); !IsNotFound(err) {
		t.Fatalf("definition survived delete: %v", err)
	}
}

func TestService_Delete_NotFound(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, &fakeParser{})

	err := svc.Delete(context.Background(), "ghost", TypeSource)
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestService_Delete_InUse(t *testing.T) {
	store := NewMemoryStore()
	seedPipelineModules(t, store)
	svc := newTestService(store, &fakeParser{steps: pipelineSteps()})

	if _, err := svc.Compose(context.Background(), "archiver", "", "transform | log", false); err != nil {
		t.Fatalf("compose: %v", err)
	}

	err := svc.Delete(context.Background(), "transform", TypeProcessor)
	if !IsInUse(err) {
		t.Fatalf("expected InUseError, got %v", err)
	}
	// The target stays registered.
	if _, err := svc.FindDefinition(context.Background(), "transform", TypeProcessor); err != nil {
		t.Fatalf("target removed despite dependents: %v", err)
	}

	// Removing the dependent unblocks the delete.
	if err := svc.Delete(context.Background(), "archiver", TypeSink); err != nil {
		t.Fatalf("delete dependent: %v", err)
	}
	if err := svc.Delete(context.Background(), "transform", TypeProcessor); err != nil {
		t.Fatalf("delete after dependent removed: %v", err)
	}
}

func TestService_Delete_StoreRefusal(t *testing.T) {
	store := NewMemoryStore()
	seedOpaque(t, store, "locked", TypeSink)
	svc := New(&stubbornRegistry{Registry: store}, &fakeParser{}, store, nil)

	err := svc.Delete(context.Background(), "locked", TypeSink)
	var deleteFailed *DeleteFailedError
	if !errors.As(err, &deleteFailed) {
		t.Fatalf("expected DeleteFailedError, got %v", err)
	}
}

func TestService_FindDefinitions(t *testing.T) {
	store := NewMemoryStore()
	seedOpaque(t, store, "feed", TypeSource)
	seedOpaque(t, store, "feed", TypeProcessor)
	seedOpaque(t, store, "log", TypeSink)
	svc := newTestService(store, &fakeParser{})

	byName, err := svc.FindDefinitions(context.Background(), DefinitionFilter{Name: "feed"}, PageRequest{})
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if byName.TotalItems != 2 {
		t.Fatalf("by name total %d, want 2", byName.TotalItems)
	}

	byType, err := svc.FindDefinitions(context.Background(), DefinitionFilter{Type: TypeSink}, PageRequest{})
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if byType.TotalItems != 1 || byType.Items[0].Name != "log" {
		t.Fatalf("by type items %v", byType.Items)
	}

	all, err := svc.FindDefinitions(context.Background(), DefinitionFilter{}, PageRequest{})
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if all.TotalItems != 3 {
		t.Fatalf("all total %d, want 3", all.TotalItems)
	}
}

func TestService_FindDefinitions_Pagination(t *testing.T) {
	store := NewMemoryStore()
	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		seedOpaque(t, store, name, TypeProcessor)
	}
	svc := newTestService(store, &fakeParser{})

	page, err := svc.FindDefinitions(context.Background(), DefinitionFilter{}, PageRequest{Number: 1, Size: 2})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.TotalItems != 5 || page.TotalPages != 3 {
		t.Fatalf("totals %d/%d, want 5/3", page.TotalItems, page.TotalPages)
	}
	if len(page.Items) != 2 || page.Items[0].Name != "c" || page.Items[1].Name != "d" {
		t.Fatalf("page items %v", page.Items)
	}

	// Past the end: empty page, same totals.
	last, err := svc.FindDefinitions(context.Background(), DefinitionFilter{}, PageRequest{Number: 9, Size: 2})
	if err != nil {
		t.Fatalf("past-end page: %v", err)
	}
	if len(last.Items) != 0 || last.TotalItems != 5 {
		t.Fatalf("past-end page %v", last)
	}
}

func TestService_FindDefinition_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	seedOpaque(t, store, "feed", TypeSource)
	svc := newTestService(store, &fakeParser{})

	first, err := svc.FindDefinition(context.Background(), "feed", TypeSource)
	if err != nil {
		t.Fatalf("first find: %v", err)
	}
	second, err := svc.FindDefinition(context.Background(), "feed", TypeSource)
	if err != nil {
		t.Fatalf("second find: %v", err)
	}
	if first.Key() != second.Key() || first.Kind != second.Kind {
		t.Fatalf("lookups diverged: %+v vs %+v", first, second)
	}
}
