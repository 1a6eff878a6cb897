package pool

import (
	"context"

	"github.com/loquat/loquat/pkg/pipeline"
)

// internalWorker is the shape of the framework-supplied Workers that
// occupy Pools 1, 3, 5, 7, 9. They always match (an internal Pool has
// exactly one participant: itself); each does one small piece of
// bookkeeping appropriate to its stage, returning Modify when that
// changes the Package and Release once it leaves the Package as is.
type internalWorker struct {
	name string
	kind Kind
	run  func(pipeline.Package) pipeline.Package
}

func (w *internalWorker) Name() string             { return w.name }
func (w *internalWorker) WorkerType() Kind          { return w.kind }
func (w *internalWorker) Matches(pipeline.TargetSite) bool { return true }
func (w *internalWorker) IsOutputSafe(pipeline.Package) bool { return true }

func (w *internalWorker) HandleBatch(_ context.Context, packages []pipeline.Package) (Outcome, error) {
	if len(packages) == 0 {
		return Release(), nil
	}
	out := w.run(packages[0])
	if out.Equal(packages[0]) {
		return Release(), nil
	}
	return Modify(out), nil
}

// IngressWorker stamps the "ingress" target site marking that a
// Package has entered the pipeline. Occupies Pool 1.
func IngressWorker() Worker {
	return &internalWorker{
		name: "builtin.ingress",
		kind: KindIngress,
		run: func(p pipeline.Package) pipeline.Package {
			return p.WithTargetSite(pipeline.TargetSite{Name: "ingress"})
		},
	}
}

// NormalizeWorker de-duplicates target sites by name, keeping the
// first occurrence. Occupies Pool 3.
func NormalizeWorker() Worker {
	return &internalWorker{
		name: "builtin.normalize",
		kind: KindNormalize,
		run: func(p pipeline.Package) pipeline.Package {
			seen := make(map[string]bool, len(p.TargetSites))
			deduped := make([]pipeline.TargetSite, 0, len(p.TargetSites))
			for _, site := range p.TargetSites {
				if seen[site.Name] {
					continue
				}
				seen[site.Name] = true
				deduped = append(deduped, site)
			}
			out := p
			out.TargetSites = deduped
			return out
		},
	}
}

// EnrichWorker is a no-op placeholder stage reserved for
// framework-level enrichment that doesn't yet exist; it Releases every
// Package unchanged. Occupies Pool 5.
func EnrichWorker() Worker {
	return &internalWorker{
		name: "builtin.enrich",
		kind: KindEnrich,
		run:  func(p pipeline.Package) pipeline.Package { return p },
	}
}

// DispatchWorker stamps the "dispatched" target site marking that a
// Package has passed through Process and is headed for Output.
// Occupies Pool 7.
func DispatchWorker() Worker {
	return &internalWorker{
		name: "builtin.dispatch",
		kind: KindDispatch,
		run: func(p pipeline.Package) pipeline.Package {
			return p.WithTargetSite(pipeline.TargetSite{Name: "dispatched"})
		},
	}
}

// EgressWorker removes the pipeline-internal bookkeeping target sites
// before a Package leaves the Stream. Occupies Pool 9.
func EgressWorker() Worker {
	return &internalWorker{
		name: "builtin.egress",
		kind: KindEgress,
		run: func(p pipeline.Package) pipeline.Package {
			return p.WithoutTargetSite("ingress").WithoutTargetSite("dispatched")
		},
	}
}
