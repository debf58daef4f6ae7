// Package postproc implements the transformation stages that inner
// parameter-expression nodes apply to every generated tuple.
//
// A Postprocessor is configured once and then driven by its owning node:
// StartTuple is called whenever the node pulls a fresh tuple from its
// descendants, Process is called once per emitted tuple, and HasMore lets a
// stage fan one underlying tuple out into several outputs. Reset restores the
// state a stage had right after construction and is called when the owning
// node restarts its traversal.
package postproc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/vk/sweepgridgo/internal/param"
)

// ErrUnknownType is returned when a document names an unsupported postprocessor.
var ErrUnknownType = errors.New("unrecognized postprocessor type")

// Postprocessor transforms generated parameter lists.
type Postprocessor interface {
	// Kind is the type tag used in the v1 document format.
	Kind() string
	// Process returns the transformed tuple. It never modifies params.
	Process(params param.List) param.List
	// HasMore reports whether the stage can emit another output for params.
	HasMore(params param.List) bool
	// Count is the multiplier this stage applies to its owner's tuple count.
	Count() int
	// StartTuple clears per-tuple state.
	StartTuple()
	// Reset clears all traversal state.
	Reset()

	json.Marshaler
}

// Owner is the node a postprocessor is attached to.
type Owner interface {
	HasContinuous() bool
}

// ownerAware is implemented by stages whose multiplier depends on the owner.
type ownerAware interface {
	attach(owner Owner)
}

// Attach records a non-owning back-reference from p to the node it belongs to.
func Attach(p Postprocessor, owner Owner) {
	if oa, ok := p.(ownerAware); ok {
		oa.attach(owner)
	}
}

type parseFunc func(raw json.RawMessage) (Postprocessor, error)

var parsers map[string]parseFunc

func init() {
	parsers = map[string]parseFunc{
		kindIgnore:     parseIgnore,
		kindSort:       parseSort,
		kindRename:     parseRename,
		kindRounding:   parseRounding,
		kindCounter:    parseCounter,
		kindHammersley: parseHammersley,
		kindExpression: parseExpression,
	}
}

// Parse builds a postprocessor from its v1 JSON document.
func Parse(raw json.RawMessage) (Postprocessor, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("invalid postprocessor document: %w", err)
	}
	parse, ok := parsers[header.Type]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, header.Type)
	}
	p, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s postprocessor: %w", header.Type, err)
	}
	return p, nil
}

// stateless provides the defaults shared by one-to-one stages.
type stateless struct{}

func (stateless) HasMore(param.List) bool { return false }
func (stateless) Count() int              { return 1 }
func (stateless) StartTuple()             {}
func (stateless) Reset()                  {}

// compileMatch anchors pattern at the start of the name.
func compileMatch(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern %q: %w", pattern, err)
	}
	return re, nil
}

// entry is one member of a JSON object whose key order is significant.
type entry struct {
	Key   string
	Value json.RawMessage
}

func decodeOrdered(raw json.RawMessage) ([]entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var entries []entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		entries = append(entries, entry{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

// orderedObject marshals entries as a JSON object, keeping their order.
type orderedObject []entry

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(e.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
