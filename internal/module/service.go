package module

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StreamWeave/module_registry/internal/logging"
	"github.com/StreamWeave/module_registry/internal/metrics"
)

// Service handles registration of module definitions, be it through
// composition or upload of raw bytes, plus the bookkeeping common to both:
// existence checking, dependency tracking and eager replacement. It also
// applies pagination to the registry's find methods after the fact.
//
// The service holds no state of its own beyond the injected collaborators.
// checkUpdatable and Delete each run a check-then-act sequence that is not a
// single transaction across collaborators; the registry's RegisterNew must
// be atomic, and the remaining window between a dependency check and the
// following delete is accepted. Callers needing strict linearizability must
// serialize per (name, type) at a higher layer.
type Service struct {
	registry Registry
	parser   PipelineParser
	deps     DependencyIndex
	log      *logrus.Entry
}

// New constructs a registration service over the given collaborators.
func New(registry Registry, parser PipelineParser, deps DependencyIndex, log *logrus.Entry) *Service {
	if log == nil {
		log = logging.New("modules")
	}
	return &Service{registry: registry, parser: parser, deps: deps, log: log}
}

// FindDefinition returns the definition registered under (name, type).
func (s *Service) FindDefinition(ctx context.Context, name string, typ ModuleType) (*Definition, error) {
	def, err := s.registry.FindDefinition(ctx, name, typ)
	if err != nil {
		return nil, fmt.Errorf("find definition: %w", err)
	}
	if def == nil {
		return nil, &NotFoundError{Name: name, Type: typ}
	}
	return def, nil
}

// DefinitionFilter narrows a listing. Name wins over Type when both are set;
// the zero filter lists everything.
type DefinitionFilter struct {
	Name string
	Type ModuleType
}

// FindDefinitions lists definitions matching filter, paginated uniformly
// regardless of which filter applied.
func (s *Service) FindDefinitions(ctx context.Context, filter DefinitionFilter, page PageRequest) (DefinitionPage, error) {
	var (
		defs []Definition
		err  error
	)
	switch {
	case filter.Name != "":
		defs, err = s.registry.FindDefinitionsByName(ctx, filter.Name)
	case filter.Type != "":
		defs, err = s.registry.FindDefinitionsByType(ctx, filter.Type)
	default:
		defs, err = s.registry.FindDefinitions(ctx)
	}
	if err != nil {
		return DefinitionPage{}, fmt.Errorf("find definitions: %w", err)
	}
	return paginate(defs, page), nil
}

// Compose registers a definition built from a pipeline expression over
// already-registered modules.
//
// typeHint is accepted for API compatibility but not consulted: the type
// inferred from the pipeline boundaries always wins.
func (s *Service) Compose(ctx context.Context, name string, typeHint ModuleType, dsl string, force bool) (Definition, error) {
	_ = typeHint

	start := time.Now()
	def, err := s.compose(ctx, name, dsl, force)
	if err != nil {
		metrics.RecordRegistration(string(KindComposed), "failed")
		metrics.RecordComposition("failed", time.Since(start))
		return Definition{}, err
	}
	metrics.RecordRegistration(string(KindComposed), "registered")
	metrics.RecordComposition("registered", time.Since(start))

	s.log.WithFields(logrus.Fields{
		"module": def.Key().String(),
		"type":   def.Type,
		"steps":  len(def.Steps),
	}).Info("composed module registered")
	return def, nil
}

func (s *Service) compose(ctx context.Context, name, dsl string, force bool) (Definition, error) {
	steps, err := s.parser.Parse(ctx, name, dsl)
	if err != nil {
		return Definition{}, err
	}

	typ, err := DetermineType(steps)
	if err != nil {
		return Definition{}, err
	}

	if err := s.checkUpdatable(ctx, name, typ, force); err != nil {
		return Definition{}, err
	}

	resolved, err := s.resolveSteps(ctx, steps)
	if err != nil {
		return Definition{}, err
	}

	def := Definition{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      typ,
		Kind:      KindComposed,
		DSL:       dsl,
		Steps:     resolved,
		CreatedAt: time.Now().UTC(),
	}

	ok, err := s.registry.RegisterNew(ctx, def)
	if err != nil {
		return Definition{}, fmt.Errorf("register %s: %w", def, err)
	}
	if !ok {
		return Definition{}, &RegistrationConflictError{Name: name, Type: typ}
	}
	return def, nil
}

// Upload registers a definition from raw uploaded bytes.
func (s *Service) Upload(ctx context.Context, name string, typ ModuleType, payload []byte, force bool) (Definition, error) {
	if err := s.checkUpdatable(ctx, name, typ, force); err != nil {
		metrics.RecordRegistration(string(KindOpaque), "failed")
		return Definition{}, err
	}

	def := Definition{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      typ,
		Kind:      KindOpaque,
		Bytes:     payload,
		CreatedAt: time.Now().UTC(),
	}

	ok, err := s.registry.RegisterNew(ctx, def)
	if err != nil {
		metrics.RecordRegistration(string(KindOpaque), "failed")
		return Definition{}, fmt.Errorf("register %s: %w", def, err)
	}
	if !ok {
		metrics.RecordRegistration(string(KindOpaque), "failed")
		return Definition{}, &RegistrationConflictError{Name: name, Type: typ}
	}

	metrics.RecordRegistration(string(KindOpaque), "registered")
	s.log.WithFields(logrus.Fields{
		"module": def.Key().String(),
		"bytes":  len(payload),
	}).Info("uploaded module registered")
	return def, nil
}

// Delete removes the definition registered under (name, type). It refuses
// while any other definition still references the target.
func (s *Service) Delete(ctx context.Context, name string, typ ModuleType) error {
	def, err := s.registry.FindDefinition(ctx, name, typ)
	if err != nil {
		return fmt.Errorf("find definition: %w", err)
	}
	if def == nil {
		metrics.RecordDeletion("not_found")
		return &NotFoundError{Name: name, Type: typ}
	}

	dependents, err := s.deps.DependentsOf(ctx, name, typ)
	if err != nil {
		return fmt.Errorf("find dependents: %w", err)
	}
	if len(dependents) > 0 {
		metrics.RecordDeletion("in_use")
		return &InUseError{Name: name, Type: typ, Dependents: dependents}
	}

	ok, err := s.registry.Delete(ctx, *def)
	if err != nil {
		return fmt.Errorf("delete %s: %w", def, err)
	}
	if !ok {
		// Existence and dependency freedom were just confirmed; a refusal
		// here means the store state diverged from the check.
		metrics.RecordDeletion("failed")
		return &DeleteFailedError{Name: name, Type: typ}
	}

	metrics.RecordDeletion("deleted")
	s.log.WithField("module", def.Key().String()).Info("module deleted")
	return nil
}

// checkUpdatable decides whether a registration for (name, type) may
// proceed. A definition of the same name under a different type never
// collides.
//
// When force replaces an existing dependency-free definition, the existing
// definition is deleted eagerly even though registration would overwrite it:
// a composed definition replaced by an uploaded one (and vice versa) changes
// shape, which register-if-absent alone cannot express. The eager delete
// also surfaces definitions the store refuses to update by policy.
func (s *Service) checkUpdatable(ctx context.Context, name string, typ ModuleType, force bool) error {
	def, err := s.registry.FindDefinition(ctx, name, typ)
	if err != nil {
		return fmt.Errorf("find definition: %w", err)
	}
	if def == nil {
		return nil
	}
	if !force {
		return &AlreadyExistsError{Name: name, Type: typ}
	}

	dependents, err := s.deps.DependentsOf(ctx, name, typ)
	if err != nil {
		return fmt.Errorf("find dependents: %w", err)
	}
	if len(dependents) > 0 {
		return &InUseError{Name: name, Type: typ, Dependents: dependents}
	}

	ok, err := s.registry.Delete(ctx, *def)
	if err != nil {
		return fmt.Errorf("delete %s: %w", def, err)
	}
	if !ok {
		return &AlreadyExistsError{Name: name, Type: typ, Reason: "existing definition cannot be updated"}
	}
	return nil
}

// resolveSteps turns parsed step descriptors into the full definitions they
// reference, preserving pipeline order.
func (s *Service) resolveSteps(ctx context.Context, steps []StepDescriptor) ([]Definition, error) {
	resolved := make([]Definition, 0, len(steps))
	for _, step := range steps {
		def, err := s.registry.FindDefinition(ctx, step.Name, step.Type)
		if err != nil {
			return nil, fmt.Errorf("resolve step %s: %w", step, err)
		}
		if def == nil {
			// The parser resolved this name moments ago; a concurrent
			// delete can still win the race.
			return nil, &UnresolvedReferenceError{Module: step.Name, Position: step.Position}
		}
		resolved = append(resolved, *def)
	}
	return resolved, nil
}
