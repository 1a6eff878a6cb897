// Package pool implements the Pool: an ordered collection of Worker
// registrations that dispatches one Package at a time. Dispatch is
// priority-ordered, and a per-Package iteration cap backed by
// value-equality comparison guards against a Worker endlessly
// re-queuing an unchanged Package (the "dead-loop").
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/loquat/loquat/pkg/pipeline"
)

// Kind names one of the nine fixed pipeline stages. Input, PreProcess,
// Process, and Output are extensible (third parties may register
// Workers); the rest are framework-internal and reject registration.
type Kind string

const (
	KindIngress    Kind = "ingress"    // 1, internal
	KindInput      Kind = "input"      // 2, extensible
	KindNormalize  Kind = "normalize"  // 3, internal
	KindPreProcess Kind = "preprocess" // 4, extensible
	KindEnrich     Kind = "enrich"     // 5, internal
	KindProcess    Kind = "process"    // 6, extensible
	KindDispatch   Kind = "dispatch"   // 7, internal
	KindOutput     Kind = "output"     // 8, extensible
	KindEgress     Kind = "egress"     // 9, internal
)

// Component renders the Kind as the "Pool[Output]"-style component tag
// used in structured log fields.
func (k Kind) Component() string {
	if k == "" {
		return "Pool[]"
	}
	return "Pool[" + strings.ToUpper(string(k[:1])) + string(k[1:]) + "]"
}

// Extensible reports whether third-party Workers may register with a
// Pool of this Kind.
func (k Kind) Extensible() bool {
	switch k {
	case KindInput, KindPreProcess, KindProcess, KindOutput:
		return true
	default:
		return false
	}
}

// Order is the fixed traversal order of the nine pool kinds, 1-indexed
// in the spec's own numbering.
var Order = [9]Kind{
	KindIngress, KindInput, KindNormalize, KindPreProcess, KindEnrich,
	KindProcess, KindDispatch, KindOutput, KindEgress,
}

// MatchingRule selects which Packages a Worker is offered.
type MatchingRule struct {
	kind  matchKind
	name  string
	regex matchRegexFn
}

type matchKind int

const (
	matchAll matchKind = iota
	matchWorker
	matchGroup
	matchRegex
)

// matchRegexFn avoids importing regexp here so callers can supply any
// compiled matcher; NewRegexRule wraps a *regexp.Regexp from the
// caller's chosen package.
type matchRegexFn func(string) bool

func AllRule() MatchingRule                   { return MatchingRule{kind: matchAll} }
func WorkerRule(name string) MatchingRule     { return MatchingRule{kind: matchWorker, name: name} }
func GroupRule(name string) MatchingRule      { return MatchingRule{kind: matchGroup, name: name} }
func RegexRule(match func(string) bool) MatchingRule {
	return MatchingRule{kind: matchRegex, regex: match}
}

// Matches evaluates the rule against one TargetSite.
func (r MatchingRule) Matches(site pipeline.TargetSite) bool {
	switch r.kind {
	case matchAll:
		return true
	case matchWorker:
		return site.Name == r.name
	case matchGroup:
		return site.GroupName == r.name
	case matchRegex:
		return r.regex != nil && r.regex(site.Name)
	default:
		return false
	}
}

// Outcome is the result a Worker's batch handler returns.
type Outcome struct {
	release  bool
	modified []pipeline.Package
}

// Release advances the Package(s) to the next Pool unchanged.
func Release() Outcome { return Outcome{release: true} }

// Modify re-enters the current Pool with the returned Packages.
func Modify(packages ...pipeline.Package) Outcome {
	return Outcome{release: false, modified: packages}
}

func (o Outcome) IsRelease() bool { return o.release }

// Worker is the contract every Pool participant implements.
type Worker interface {
	Name() string
	WorkerType() Kind
	Matches(site pipeline.TargetSite) bool
	HandleBatch(ctx context.Context, packages []pipeline.Package) (Outcome, error)
	IsOutputSafe(output pipeline.Package) bool
}

// Registration pairs a Worker with its MatchingRule and priority.
// Lower priority executes earlier; ties are broken by insertion order.
type Registration struct {
	Worker   Worker
	Rule     MatchingRule
	Priority int
	seq      int
}

// ErrNotExtensible is returned by Register on a framework-internal
// Pool.
var ErrNotExtensible = fmt.Errorf("pool: not extensible")

// ErrNotFound is returned by Unregister when no Worker with the given
// name is registered.
var ErrNotFound = fmt.Errorf("pool: worker not found")

// DeadLoopError describes a Worker whose Modify result reproduces its
// own input. Process does not construct it: it logs the dead-loop as a
// warning (pool, worker and package_id fields) and forces a release.
type DeadLoopError struct {
	Pool       Kind
	WorkerName string
}

func (e *DeadLoopError) Error() string {
	return fmt.Sprintf("pool[%s]: worker %q returned a dead-loop package", e.Pool, e.WorkerName)
}

// DefaultIterationCap bounds the number of dispatch restarts a single
// Package may trigger within one Pool before it is forced to Release.
const DefaultIterationCap = 64

// Pool holds ordered Worker registrations for one pipeline stage and
// dispatches Packages through them.
type Pool struct {
	kind         Kind
	mu           sync.RWMutex
	regs         []Registration
	nextSeq      int
	iterationCap int
	logger       *slog.Logger
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithIterationCap overrides DefaultIterationCap.
func WithIterationCap(cap int) Option {
	return func(p *Pool) { p.iterationCap = cap }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// New constructs an empty Pool for the given Kind.
func New(kind Kind, opts ...Option) *Pool {
	p := &Pool{
		kind:         kind,
		iterationCap: DefaultIterationCap,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Kind() Kind { return p.kind }

// Register inserts a Registration, maintaining priority order (ties
// broken by insertion order). Fails with ErrNotExtensible on an
// internal Pool.
func (p *Pool) Register(worker Worker, rule MatchingRule, priority int) error {
	if !p.kind.Extensible() {
		return fmt.Errorf("pool[%s]: %w", p.kind, ErrNotExtensible)
	}
	if worker == nil {
		return fmt.Errorf("pool[%s]: nil worker", p.kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reg := Registration{Worker: worker, Rule: rule, Priority: priority, seq: p.nextSeq}
	p.nextSeq++

	idx := sort.Search(len(p.regs), func(i int) bool {
		if p.regs[i].Priority != priority {
			return p.regs[i].Priority > priority
		}
		return false
	})
	p.regs = append(p.regs, Registration{})
	copy(p.regs[idx+1:], p.regs[idx:])
	p.regs[idx] = reg

	return nil
}

// RegisterInternal installs a Worker regardless of Extensible(); it is
// used only by Stream construction to seed the framework-internal
// Workers of Pools 1, 3, 5, 7, 9 and must not be exposed to plugin or
// adapter code.
func (p *Pool) RegisterInternal(worker Worker, rule MatchingRule, priority int) error {
	if worker == nil {
		return fmt.Errorf("pool[%s]: nil worker", p.kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reg := Registration{Worker: worker, Rule: rule, Priority: priority, seq: p.nextSeq}
	p.nextSeq++

	idx := sort.Search(len(p.regs), func(i int) bool {
		if p.regs[i].Priority != priority {
			return p.regs[i].Priority > priority
		}
		return false
	})
	p.regs = append(p.regs, Registration{})
	copy(p.regs[idx+1:], p.regs[idx:])
	p.regs[idx] = reg

	return nil
}

// Unregister removes the Worker with the given name.
func (p *Pool) Unregister(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, reg := range p.regs {
		if reg.Worker.Name() == name {
			p.regs = append(p.regs[:i], p.regs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("pool[%s]: %w: %s", p.kind, ErrNotFound, name)
}

// WorkerCount returns the number of registered Workers.
func (p *Pool) WorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.regs)
}

func (p *Pool) snapshot() []Registration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Registration, len(p.regs))
	copy(out, p.regs)
	return out
}

// Result is what Process reports back to the Stream: either the
// Package(s) released to advance, or Package(s) that must re-enter
// this same Pool.
type Result struct {
	Released []pipeline.Package
	Continue []pipeline.Package
}

// Process dispatches one Package through this Pool's registrations in
// priority order until a Worker releases it or the dead-loop/iteration
// guards force a release.
func (p *Pool) Process(ctx context.Context, pkg pipeline.Package) Result {
	current := pkg
	for iter := 0; ; iter++ {
		if iter >= p.iterationCap {
			p.logger.Error("pool: iteration cap exceeded, forcing release",
				"component", p.kind.Component(), "package_id", current.ID, "cap", p.iterationCap)
			return Result{Released: []pipeline.Package{current}}
		}

		regs := p.snapshot()
		matched := p.firstMatch(regs, current)
		if matched == nil {
			return Result{Released: []pipeline.Package{current}}
		}

		outcome, err := matched.Worker.HandleBatch(ctx, []pipeline.Package{current})
		if err != nil {
			p.logger.Error("pool: worker handler failed, releasing",
				"component", p.kind.Component(), "worker", matched.Worker.Name(), "package_id", current.ID, "error", err)
			return Result{Released: []pipeline.Package{current}}
		}

		if outcome.IsRelease() {
			return Result{Released: []pipeline.Package{current}}
		}

		// Modify: check each returned Package for the dead-loop
		// condition before deciding whether to re-enter.
		var toContinue []pipeline.Package
		var toRelease []pipeline.Package
		for _, candidate := range outcome.modified {
			if candidate.Equal(current) || !matched.Worker.IsOutputSafe(candidate) {
				p.logger.Warn("pool: dead-loop guard triggered, forcing release",
					"component", p.kind.Component(), "worker", matched.Worker.Name(), "package_id", candidate.ID)
				toRelease = append(toRelease, candidate)
				continue
			}
			toContinue = append(toContinue, candidate)
		}

		if len(toContinue) == 0 {
			if len(toRelease) == 0 {
				return Result{Released: []pipeline.Package{current}}
			}
			return Result{Released: toRelease}
		}

		if len(toContinue) == 1 && len(toRelease) == 0 {
			current = toContinue[0]
			continue
		}

		// Multiple resulting Packages, or a release/continue mix: hand
		// every continuing Package back to the Stream so it re-enters
		// each one into this same Pool independently via its work
		// queue, rather than recursing here.
		return Result{Released: toRelease, Continue: toContinue}
	}
}

func (p *Pool) firstMatch(regs []Registration, pkg pipeline.Package) *Registration {
	for i := range regs {
		reg := &regs[i]
		if reg.Worker.WorkerType() != p.kind {
			continue
		}
		for _, site := range pkg.TargetSites {
			if reg.Rule.Matches(site) {
				return reg
			}
		}
		if reg.Rule.kind == matchAll {
			return reg
		}
	}
	return nil
}
