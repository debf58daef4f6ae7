// Package pex implements parameter expressions: trees of nodes that lazily
// enumerate parameter tuples.
//
// Inner nodes combine their descendants (And is a Cartesian product, Or an
// alternation) and run their own postprocessor chain on every tuple. Leaves
// produce single-parameter tuples. Every node exposes an explicit Reset that
// restarts traversal without touching its configuration, so a tree can be
// enumerated any number of times.
package pex

import (
	"encoding/json"

	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/postproc"
)

// Node is an element of a parameter expression tree.
type Node interface {
	// Next returns the next tuple. It must only be called while HasMore is true.
	Next() param.List
	// HasMore reports whether Next can produce another tuple.
	HasMore() bool
	// Reset restarts the traversal of the node and everything below it.
	Reset()
	// Count is the number of tuples a full traversal produces.
	Count() int
	// HasContinuous reports whether a continuous leaf sits at or below the node.
	HasContinuous() bool

	json.Marshaler
}

// Named is implemented by leaves.
type Named interface {
	Name() string
}

// inner holds the state shared by And and Or.
type inner struct {
	descendants    []Node
	postprocessors []postproc.Postprocessor
	flat           param.List
}

// exhausted reports whether every postprocessor is done with the current tuple.
func (n *inner) exhausted() bool {
	for _, p := range n.postprocessors {
		if p.HasMore(n.flat) {
			return false
		}
	}
	return true
}

// emit pulls a fresh underlying tuple when the postprocessors are done with
// the current one, then runs the chain in attachment order.
func (n *inner) emit(generate func()) param.List {
	if n.exhausted() {
		generate()
		for _, p := range n.postprocessors {
			p.StartTuple()
		}
	}

	values := n.flat
	for _, p := range n.postprocessors {
		values = p.Process(values)
	}
	return values
}

func (n *inner) resetInner() {
	for _, d := range n.descendants {
		d.Reset()
	}
	for _, p := range n.postprocessors {
		p.Reset()
	}
	n.flat = nil
}

func (n *inner) multiplier() int {
	m := 1
	for _, p := range n.postprocessors {
		m *= p.Count()
	}
	return m
}

// HasContinuous reports whether any descendant has a continuous leaf.
func (n *inner) HasContinuous() bool {
	for _, d := range n.descendants {
		if d.HasContinuous() {
			return true
		}
	}
	return false
}

// Descendants returns the direct descendants in insertion order.
func (n *inner) Descendants() []Node {
	return n.descendants
}

// Postprocessors returns the attached postprocessors in order.
func (n *inner) Postprocessors() []postproc.Postprocessor {
	return n.postprocessors
}

// Descendant returns the first direct leaf descendant with the given name.
func (n *inner) Descendant(name string) (Node, bool) {
	for _, d := range n.descendants {
		if named, ok := d.(Named); ok && named.Name() == name {
			return d, true
		}
	}
	return nil, false
}

func (n *inner) removeDescendant(name string) (Node, bool) {
	found, ok := n.Descendant(name)
	if !ok {
		return nil, false
	}
	kept := n.descendants[:0:0]
	for _, d := range n.descendants {
		if d != found {
			kept = append(kept, d)
		}
	}
	n.descendants = kept
	return found, true
}

type innerDoc struct {
	Type           string                   `json:"type"`
	Postprocessors []postproc.Postprocessor `json:"postprocessors,omitempty"`
	Descendants    []Node                   `json:"descendants,omitempty"`
}

// And enumerates the Cartesian product of its descendants. The last added
// descendant varies fastest.
type And struct {
	inner
	cursor int
	values []param.List
}

// NewAnd creates a conjunction over the given descendants.
func NewAnd(descendants ...Node) *And {
	a := &And{}
	a.descendants = descendants
	a.Reset()
	return a
}

// Add appends a descendant and restarts the traversal.
func (a *And) Add(d Node) {
	a.descendants = append(a.descendants, d)
	a.Reset()
}

// Remove drops the leaf descendant with the given name and restarts the traversal.
func (a *And) Remove(name string) (Node, bool) {
	d, ok := a.removeDescendant(name)
	a.Reset()
	return d, ok
}

// AddPostprocessor attaches p to the node.
func (a *And) AddPostprocessor(p postproc.Postprocessor) {
	postproc.Attach(p, a)
	a.postprocessors = append(a.postprocessors, p)
}

func (a *And) Reset() {
	a.resetInner()
	a.values = make([]param.List, len(a.descendants))
	a.cursor = 0
	if len(a.descendants) == 0 {
		a.cursor = -1
	}
}

func (a *And) HasMore() bool {
	return !a.exhausted() || a.cursor != -1
}

func (a *And) Next() param.List {
	return a.emit(a.generate)
}

// generate advances the odometer: refill from the cursor to the last
// descendant, then walk back over exhausted descendants.
func (a *And) generate() {
	if a.cursor < 0 {
		a.flat = nil
		return
	}

	last := len(a.descendants) - 1
	for a.cursor < last {
		a.values[a.cursor] = a.descendants[a.cursor].Next()
		a.cursor++
	}
	a.values[a.cursor] = a.descendants[a.cursor].Next()

	for a.cursor > -1 && !a.descendants[a.cursor].HasMore() {
		a.descendants[a.cursor].Reset()
		a.cursor--
	}

	size := 0
	for _, v := range a.values {
		size += len(v)
	}
	flat := make(param.List, 0, size)
	for _, v := range a.values {
		flat = append(flat, v...)
	}
	a.flat = flat
}

func (a *And) Count() int {
	if len(a.descendants) == 0 {
		return 0
	}
	total := 1
	for _, d := range a.descendants {
		total *= d.Count()
	}
	return total * a.multiplier()
}

func (a *And) MarshalJSON() ([]byte, error) {
	return json.Marshal(innerDoc{Type: kindAnd, Postprocessors: a.postprocessors, Descendants: a.descendants})
}

// Or enumerates its descendants one after the other.
type Or struct {
	inner
	index int
}

// NewOr creates a disjunction over the given descendants.
func NewOr(descendants ...Node) *Or {
	o := &Or{}
	o.descendants = descendants
	o.Reset()
	return o
}

// Add appends a descendant and restarts the traversal.
func (o *Or) Add(d Node) {
	o.descendants = append(o.descendants, d)
	o.Reset()
}

// Remove drops the leaf descendant with the given name and restarts the traversal.
func (o *Or) Remove(name string) (Node, bool) {
	d, ok := o.removeDescendant(name)
	o.Reset()
	return d, ok
}

// AddPostprocessor attaches p to the node.
func (o *Or) AddPostprocessor(p postproc.Postprocessor) {
	postproc.Attach(p, o)
	o.postprocessors = append(o.postprocessors, p)
}

func (o *Or) Reset() {
	o.resetInner()
	o.index = 0
}

func (o *Or) HasMore() bool {
	return !o.exhausted() || o.index < len(o.descendants)
}

func (o *Or) Next() param.List {
	return o.emit(o.generate)
}

func (o *Or) generate() {
	if o.index >= len(o.descendants) {
		o.flat = nil
		return
	}
	current := o.descendants[o.index]
	o.flat = current.Next()
	if !current.HasMore() {
		o.index++
	}
}

func (o *Or) Count() int {
	total := 0
	for _, d := range o.descendants {
		total += d.Count()
	}
	return total * o.multiplier()
}

func (o *Or) MarshalJSON() ([]byte, error) {
	return json.Marshal(innerDoc{Type: kindOr, Postprocessors: o.postprocessors, Descendants: o.descendants})
}
