// Package router implements the pure, non-blocking mapping from a
// Package to a processing context: an adapter target plus a channel
// key.
package router

import (
	"fmt"

	"github.com/loquat/loquat/pkg/pipeline"
)

// ErrNoRoute is returned when auto-routing is disabled and the Package
// carries no explicit routing target site.
var ErrNoRoute = fmt.Errorf("router: no route")

// explicitRouteSite is the TargetSite name a Package can carry to
// request an explicit adapter target instead of the default derived
// from its package_id.
const explicitRouteSite = "route"

// Decision is the outcome of routing one Package: which adapter should
// own delivery, and which Channel it belongs to.
type Decision struct {
	AdapterTarget string
	ChannelKey    pipeline.ChannelType
}

// Router is pure and side-effect-free; it never performs I/O and its
// results may safely be cached by the caller keyed on package_id
// prefix.
type Router struct {
	autoRoute     bool
	defaultTarget string
}

// Option configures a Router.
type Option func(*Router)

// WithAutoRoute enables or disables deriving a route from package_id
// alone when no explicit "route" TargetSite is present.
func WithAutoRoute(enabled bool) Option {
	return func(r *Router) { r.autoRoute = enabled }
}

// WithDefaultTarget sets the adapter target used when auto-routing and
// no more specific rule applies.
func WithDefaultTarget(target string) Option {
	return func(r *Router) { r.defaultTarget = target }
}

// New constructs a Router. Auto-routing is enabled by default.
func New(opts ...Option) *Router {
	r := &Router{autoRoute: true, defaultTarget: "default"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route derives a Decision from pkg's package_id and target sites.
func (r *Router) Route(pkg pipeline.Package) (Decision, error) {
	channel, err := pkg.Channel()
	if err != nil {
		return Decision{}, fmt.Errorf("router: %w", err)
	}

	for _, site := range pkg.TargetSites {
		if site.Name == explicitRouteSite && site.GroupName != "" {
			return Decision{AdapterTarget: site.GroupName, ChannelKey: channel}, nil
		}
	}

	if !r.autoRoute {
		return Decision{}, ErrNoRoute
	}

	return Decision{AdapterTarget: r.defaultTarget, ChannelKey: channel}, nil
}
