// Package pipeline defines the message containers that travel through
// the Loquat processing pipeline: Package, Block, Group, Event, and the
// routing labels (TargetSite) and channel identity (ChannelType) derived
// from them.
package pipeline

import (
	"fmt"
	"strings"
)

// ChannelKind identifies the broad category of conversation a Package
// belongs to, derived deterministically from its package_id prefix.
type ChannelKind string

const (
	ChannelKindGroup   ChannelKind = "group"
	ChannelKindPrivate ChannelKind = "private"
	ChannelKindChannel ChannelKind = "channel"
)

func (k ChannelKind) valid() bool {
	switch k {
	case ChannelKindGroup, ChannelKindPrivate, ChannelKindChannel:
		return true
	default:
		return false
	}
}

// ChannelType is the (kind, id) pair a Package resolves to. It is the
// key ChannelManager uses to look up or create Channel state.
type ChannelType struct {
	Kind ChannelKind
	ID   string
}

func (c ChannelType) String() string {
	return fmt.Sprintf("%s:%s", c.Kind, c.ID)
}

// ParsePackageID parses the "<kind>:<id>" grammar:
// kind ∈ {group, private, channel}; id is any non-empty string
// containing no colons.
func ParsePackageID(id string) (ChannelType, error) {
	if id == "" {
		return ChannelType{}, fmt.Errorf("package id: empty")
	}

	idx := strings.IndexByte(id, ':')
	if idx < 0 {
		return ChannelType{}, fmt.Errorf("package id %q: missing ':' separator", id)
	}

	kind := ChannelKind(id[:idx])
	rest := id[idx+1:]

	if !kind.valid() {
		return ChannelType{}, fmt.Errorf("package id %q: unknown kind %q", id, kind)
	}
	if rest == "" {
		return ChannelType{}, fmt.Errorf("package id %q: empty id component", id)
	}
	if strings.IndexByte(rest, ':') >= 0 {
		return ChannelType{}, fmt.Errorf("package id %q: id component contains ':'", id)
	}

	return ChannelType{Kind: kind, ID: rest}, nil
}

// TargetSite is a routing label a Worker handler can add to or remove
// from a Package's target_sites. Equality is by Name; GroupName is
// optional context a MatchingRule may inspect.
type TargetSite struct {
	Name      string
	GroupName string
}

func (t TargetSite) Equal(other TargetSite) bool {
	return t.Name == other.Name
}

// Package is the top-level unit traversing the Stream. A Package must
// never be mutated concurrently by more than one goroutine; Workers
// observe and return new Packages rather than mutating in place, which
// is what lets the Pool use value equality as its dead-loop signal.
type Package struct {
	ID          string
	TargetSites []TargetSite
	Blocks      []Block
}

// NewPackage validates id against the package_id grammar and returns a
// Package with it, or an error if id is not well-formed.
func NewPackage(id string, blocks ...Block) (Package, error) {
	if _, err := ParsePackageID(id); err != nil {
		return Package{}, err
	}
	return Package{ID: id, Blocks: blocks}, nil
}

// Channel derives the ChannelType this Package routes to.
func (p Package) Channel() (ChannelType, error) {
	return ParsePackageID(p.ID)
}

// WithTargetSite returns a copy of p with site appended, unless an
// equal site is already present.
func (p Package) WithTargetSite(site TargetSite) Package {
	for _, existing := range p.TargetSites {
		if existing.Equal(site) {
			return p
		}
	}
	next := make([]TargetSite, len(p.TargetSites), len(p.TargetSites)+1)
	copy(next, p.TargetSites)
	next = append(next, site)
	out := p
	out.TargetSites = next
	return out
}

// WithoutTargetSite returns a copy of p with any site named name
// removed.
func (p Package) WithoutTargetSite(name string) Package {
	next := make([]TargetSite, 0, len(p.TargetSites))
	for _, existing := range p.TargetSites {
		if existing.Name != name {
			next = append(next, existing)
		}
	}
	out := p
	out.TargetSites = next
	return out
}

// HasTargetSite reports whether any target site with the given name is
// present.
func (p Package) HasTargetSite(name string) bool {
	for _, site := range p.TargetSites {
		if site.Name == name {
			return true
		}
	}
	return false
}

// Equal reports deep value equality between two Packages: same ID,
// same target sites (order-sensitive) and same blocks. This is the
// comparison the Pool dead-loop guard uses to detect a Worker
// re-submitting its own input unchanged.
func (p Package) Equal(other Package) bool {
	if p.ID != other.ID {
		return false
	}
	if len(p.TargetSites) != len(other.TargetSites) {
		return false
	}
	for i := range p.TargetSites {
		if p.TargetSites[i] != other.TargetSites[i] {
			return false
		}
	}
	if len(p.Blocks) != len(other.Blocks) {
		return false
	}
	for i := range p.Blocks {
		if !p.Blocks[i].Equal(other.Blocks[i]) {
			return false
		}
	}
	return true
}
