// Package filter compiles CEL predicates over surveillance samples.
//
// Expressions see one sample at a time through these variables:
//
//	id, location_id, result   string
//	latitude, longitude       double
//	collected_at              timestamp
//	metadata                  map(string, dyn)
//
// For example: result == "positive" && metadata.species == "Culex".
package filter

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-health/kestrel/internal/domain"
)

// DefaultMaxPrograms bounds the compiled program cache.
const DefaultMaxPrograms = 256

// Compiler compiles and caches sample predicates. It is safe for concurrent use.
type Compiler struct {
	mu          sync.RWMutex
	env         *cel.Env
	programs    map[string]cel.Program
	maxPrograms int
}

// NewCompiler creates a compiler with the sample variables declared.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("location_id", cel.StringType),
		cel.Variable("result", cel.StringType),
		cel.Variable("latitude", cel.DoubleType),
		cel.Variable("longitude", cel.DoubleType),
		cel.Variable("collected_at", cel.TimestampType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{
		env:         env,
		programs:    make(map[string]cel.Program),
		maxPrograms: DefaultMaxPrograms,
	}, nil
}

// Compile returns the program for expr, compiling it on first use.
// Expressions that do not parse, do not type-check or cannot yield a
// bool are reported as invalid input.
func (c *Compiler) Compile(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: filter: %v", domain.ErrInvalidInput, issues.Err())
	}
	if out := ast.OutputType(); out != cel.BoolType && out != cel.DynType {
		return nil, fmt.Errorf("%w: filter must return bool, got %s", domain.ErrInvalidInput, out)
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", domain.ErrInvalidInput, err)
	}

	c.mu.Lock()
	if len(c.programs) >= c.maxPrograms {
		clear(c.programs)
	}
	c.programs[expr] = prg
	c.mu.Unlock()
	return prg, nil
}

// Validate reports whether expr is a usable filter.
func (c *Compiler) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := c.Compile(expr)
	return err
}

// Apply returns the samples matching expr in their original order.
// An empty expression matches everything. A sample whose evaluation fails,
// for instance on a missing metadata key, does not match.
func (c *Compiler) Apply(expr string, samples []domain.SampleRecord) ([]domain.SampleRecord, error) {
	if expr == "" {
		return samples, nil
	}
	prg, err := c.Compile(expr)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SampleRecord, 0, len(samples))
	for i := range samples {
		if Match(prg, samples[i]) {
			out = append(out, samples[i])
		}
	}
	return out, nil
}

// Match evaluates a compiled predicate against one sample.
func Match(prg cel.Program, s domain.SampleRecord) bool {
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	val, _, err := prg.Eval(map[string]any{
		"id":           s.ID,
		"location_id":  s.LocationID,
		"result":       string(s.Result),
		"latitude":     s.Latitude,
		"longitude":    s.Longitude,
		"collected_at": s.CollectedAt,
		"metadata":     metadata,
	})
	if err != nil {
		return false
	}
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

// Len returns the number of cached programs.
func (c *Compiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
