// Package processing holds the pluggable work a worker runs on an uploaded
// file. Processors are looked up by name in a Registry and run in order as
// a Chain.
package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"rustler/internal/models"
)

// Input is the file a processor works on.
type Input struct {
	Record *models.FileRecord
	Data   []byte
}

// Result is what a processor produced. Metadata keys from later processors
// in a chain override earlier ones.
type Result struct {
	Checksum string
	Metadata map[string]any
}

// Processor transforms or inspects one file.
type Processor interface {
	Name() string
	Process(ctx context.Context, in Input) (Result, error)
}

// --- Error classification ---

type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Transient marks err as retryable. Unmarked errors are treated the same way.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTerminal reports whether err was marked Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// SHA256Hex returns the hex encoded sha256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// --- Chain ---

// Chain runs processors in order and stops at the first error.
type Chain struct {
	steps []Processor
}

func NewChain(steps ...Processor) *Chain {
	return &Chain{steps: steps}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.steps))
	for i, p := range c.steps {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

func (c *Chain) Process(ctx context.Context, in Input) (Result, error) {
	out := Result{Metadata: map[string]any{}}
	for _, p := range c.steps {
		if err := ctx.Err(); err != nil {
			return Result{}, Transient(err)
		}
		res, err := p.Process(ctx, in)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", p.Name(), err)
		}
		if res.Checksum != "" {
			out.Checksum = res.Checksum
		}
		for k, v := range res.Metadata {
			out.Metadata[k] = v
		}
	}
	return out, nil
}

// --- Registry ---

// Options carries settings the built-in processors need.
type Options struct {
	SummaryMaxLength int
	Validator        *Validator
}

// Factory builds a processor from Options.
type Factory func(opts Options) Processor

// Registry maps processor names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	opts      Options
}

// NewRegistry returns a registry with the built-in processors registered.
func NewRegistry(opts Options) *Registry {
	if opts.Validator == nil {
		opts.Validator = NewValidator()
	}
	r := &Registry{factories: map[string]Factory{}, opts: opts}
	r.Register(ChecksumName, func(Options) Processor { return NewChecksum() })
	r.Register(ValidateName, func(o Options) Processor { return NewValidate(o.Validator) })
	r.Register(TextSummaryName, func(o Options) Processor { return NewTextSummary(o.SummaryMaxLength) })
	return r
}

// Register adds or replaces a processor factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered processor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Build returns a Chain of the named processors, in order.
func (r *Registry) Build(names []string) (*Chain, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one processor is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]Processor, 0, len(names))
	for _, name := range names {
		f, ok := r.factories[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown processor %q (available: %s)", name, strings.Join(r.namesLocked(), ", "))
		}
		steps = append(steps, f(r.opts))
	}
	return NewChain(steps...), nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
