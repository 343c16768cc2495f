// Package command implements the command registry: known command
// descriptors gated by endpoint availability, prefix completion over
// available names, and classification of raw user input into a raw
// CoAP GET, raw diagnostic text, or a matched command.
package command

import (
	"sort"
	"strings"
)

// Outcome is the sum type a descriptor's Parse function returns.
type Outcome struct {
	Kind    OutcomeKind
	Text    string      // OutcomeText
	Handler interface{} // OutcomeCoAP — a job.Handler, kept as interface{} so this package stays CoAP-agnostic
	Builtin string      // OutcomeInternal
}

type OutcomeKind int

const (
	OutcomeText OutcomeKind = iota
	OutcomeCoAP
	OutcomeInternal
)

// ParseFunc builds an Outcome from the full argument string following
// the command name.
type ParseFunc func(args string) (Outcome, error)

// Descriptor is one known command: its name, a human description, the
// endpoint paths it requires to be considered available, and the parse
// function that turns user arguments into an Outcome.
type Descriptor struct {
	Name              string
	Description       string
	RequiredEndpoints []string
	Parse             ParseFunc
}

// Registry holds every known descriptor plus the live endpoint
// inventory that gates availability. Availability is monotonic within a
// session: once a descriptor becomes available it is never demoted,
// even if the inventory later shrinks.
type Registry struct {
	descriptors map[string]*Descriptor
	available   map[string]bool
	inventory   map[string]bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		available:   make(map[string]bool),
		inventory:   make(map[string]bool),
	}
}

// Register adds or replaces a descriptor and immediately recomputes its
// availability against the current inventory.
func (r *Registry) Register(d *Descriptor) {
	r.descriptors[d.Name] = d
	r.recomputeOne(d)
}

// UpdateInventory adds a resource path to the endpoint inventory and
// recomputes availability for every descriptor.
func (r *Registry) UpdateInventory(path string) {
	if r.inventory[path] {
		return
	}
	r.inventory[path] = true
	for _, d := range r.descriptors {
		r.recomputeOne(d)
	}
}

func (r *Registry) recomputeOne(d *Descriptor) {
	if r.available[d.Name] {
		return // monotonic: never demoted
	}
	for _, ep := range d.RequiredEndpoints {
		if !r.inventory[ep] {
			return
		}
	}
	r.available[d.Name] = true
}

// Lookup finds a descriptor by exact trimmed name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[strings.TrimSpace(name)]
	return d, ok
}

// LookupByEndpoint finds the first descriptor whose first required
// endpoint matches path.
func (r *Registry) LookupByEndpoint(path string) (*Descriptor, bool) {
	for _, d := range r.descriptors {
		if len(d.RequiredEndpoints) > 0 && d.RequiredEndpoints[0] == path {
			return d, true
		}
	}
	return nil, false
}

// Available returns every currently-available descriptor, ordered with
// "help" first, names beginning with "/" last, otherwise by decreasing
// required-endpoint count, ties broken lexicographically.
func (r *Registry) Available() []*Descriptor {
	var out []*Descriptor
	for name, ok := range r.available {
		if ok {
			out = append(out, r.descriptors[name])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j]) || (rank(out[i]) == rank(out[j]) && less(out[i], out[j]))
	})
	return out
}

func rank(d *Descriptor) int {
	switch {
	case d.Name == "help":
		return 0
	case strings.HasPrefix(d.Name, "/"):
		return 2
	default:
		return 1
	}
}

func less(a, b *Descriptor) bool {
	if rank(a) == 1 && rank(b) == 1 {
		if len(a.RequiredEndpoints) != len(b.RequiredEndpoints) {
			return len(a.RequiredEndpoints) > len(b.RequiredEndpoints)
		}
	}
	return a.Name < b.Name
}

// Complete implements prefix completion over available descriptor
// names: the longest common prefix extending the given input, plus the
// set of matching candidates. If exactly one candidate matches, its
// full name is returned. If none match, the input itself is returned
// with no candidates.
func (r *Registry) Complete(prefix string) (string, []*Descriptor) {
	var candidates []*Descriptor
	for _, d := range r.Available() {
		if strings.HasPrefix(d.Name, prefix) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return prefix, nil
	}
	if len(candidates) == 1 {
		return candidates[0].Name, candidates
	}

	common := candidates[0].Name
	for _, c := range candidates[1:] {
		common = commonPrefix(common, c.Name)
	}
	return common, candidates
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
