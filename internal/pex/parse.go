package pex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/postproc"
)

const (
	kindAnd        = "and"
	kindOr         = "or"
	kindDiscrete   = "discrete"
	kindContinuous = "continuous"
	kindFile       = "file"
	kindDirectory  = "directory"
	kindFlag       = "flag"
)

// ErrInvalidDocument is returned for documents that describe no known node.
var ErrInvalidDocument = errors.New("invalid parameter expression")

// nodeDoc is the union of every v1 node document.
type nodeDoc struct {
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Separator      string            `json:"separator"`
	Prefix         string            `json:"prefix"`
	Values         json.RawMessage   `json:"values"`
	Path           string            `json:"path"`
	Match          *string           `json:"match"`
	Descendants    []json.RawMessage `json:"descendants"`
	Postprocessors []json.RawMessage `json:"postprocessors"`
}

type nodeParser func(doc *nodeDoc) (Node, error)

var nodeParsers map[string]nodeParser

func init() {
	nodeParsers = map[string]nodeParser{
		kindAnd:        parseAnd,
		kindOr:         parseOr,
		kindDiscrete:   parseDiscrete,
		kindContinuous: parseContinuous,
		kindFile:       parseFile,
		kindDirectory:  parseDirectory,
		kindFlag:       parseFlag,
	}
}

// Parse builds a tree from a v1 document or the compact v2 shorthand. The two
// formats may be mixed at any depth.
func Parse(data []byte) (Node, error) {
	return parseRaw(json.RawMessage(data))
}

// ParseFile reads and parses the document at path.
func ParseFile(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter expression: %w", err)
	}
	n, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return n, nil
}

// Marshal renders n as an indented v1 document.
func Marshal(n Node) ([]byte, error) {
	return json.MarshalIndent(n, "", "    ")
}

func parseRaw(raw json.RawMessage) (Node, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if _, ok := obj["type"]; ok {
		return parseTyped(raw)
	}
	return parseCompact(obj)
}

func parseTyped(raw json.RawMessage) (Node, error) {
	var doc nodeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	parse, ok := nodeParsers[doc.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node type %q", ErrInvalidDocument, doc.Type)
	}
	return parse(&doc)
}

type innerNode interface {
	Node
	Add(d Node)
	AddPostprocessor(p postproc.Postprocessor)
}

func fillInner(n innerNode, descendants, postprocessors []json.RawMessage) (Node, error) {
	for _, raw := range descendants {
		d, err := parseRaw(raw)
		if err != nil {
			return nil, err
		}
		n.Add(d)
	}
	for _, raw := range postprocessors {
		p, err := postproc.Parse(raw)
		if err != nil {
			return nil, err
		}
		n.AddPostprocessor(p)
	}
	n.Reset()
	return n, nil
}

func parseAnd(doc *nodeDoc) (Node, error) {
	return fillInner(NewAnd(), doc.Descendants, doc.Postprocessors)
}

func parseOr(doc *nodeDoc) (Node, error) {
	return fillInner(NewOr(), doc.Descendants, doc.Postprocessors)
}

func parseDiscrete(doc *nodeDoc) (Node, error) {
	if doc.Name == "" {
		return nil, fmt.Errorf("%w: discrete leaf without a name", ErrInvalidDocument)
	}
	d, err := discreteFromValues(doc.Name, doc.Values)
	if err != nil {
		return nil, err
	}
	d.SetStyle(doc.Separator, doc.Prefix)
	return d, nil
}

// discreteFromValues accepts either a value list or a {min, max, step} range.
func discreteFromValues(name string, values json.RawMessage) (*Discrete, error) {
	switch firstByte(values) {
	case '[':
		var list []any
		if err := json.Unmarshal(values, &list); err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrInvalidDocument, name, err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("parameter %q: %w", name, ErrNoValues)
		}
		return NewDiscrete(name, list...), nil
	case '{':
		var r struct {
			Min  *float64 `json:"min"`
			Max  *float64 `json:"max"`
			Step *float64 `json:"step"`
		}
		if err := json.Unmarshal(values, &r); err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrInvalidDocument, name, err)
		}
		if r.Min == nil || r.Max == nil || r.Step == nil {
			return nil, fmt.Errorf("%w: parameter %q: a range needs min, max and step", ErrInvalidDocument, name)
		}
		return NewRange(name, Range{Min: *r.Min, Max: *r.Max, Step: *r.Step})
	default:
		return nil, fmt.Errorf("parameter %q: %w", name, ErrNoValues)
	}
}

func parseContinuous(doc *nodeDoc) (Node, error) {
	iv, err := intervalFrom(doc.Name, doc.Values)
	if err != nil {
		return nil, err
	}
	c := NewContinuous(doc.Name, iv.Min, iv.Max)
	c.SetStyle(doc.Separator, doc.Prefix)
	return c, nil
}

func intervalFrom(name string, values json.RawMessage) (param.Interval, error) {
	var r struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	if err := json.Unmarshal(values, &r); err != nil || r.Min == nil || r.Max == nil {
		return param.Interval{}, fmt.Errorf("%w: continuous parameter %q needs min and max", ErrInvalidDocument, name)
	}
	return param.Interval{Min: *r.Min, Max: *r.Max}, nil
}

func parseFile(doc *nodeDoc) (Node, error) {
	f, err := NewFile(doc.Name, doc.Path, deref(doc.Match))
	if err != nil {
		return nil, err
	}
	f.SetStyle(doc.Separator, doc.Prefix)
	return f, nil
}

func parseDirectory(doc *nodeDoc) (Node, error) {
	d, err := NewDirectory(doc.Name, doc.Path, deref(doc.Match))
	if err != nil {
		return nil, err
	}
	d.SetStyle(doc.Separator, doc.Prefix)
	return d, nil
}

func parseFlag(doc *nodeDoc) (Node, error) {
	if doc.Name == "" {
		return nil, fmt.Errorf("%w: flag without a name", ErrInvalidDocument)
	}
	f := NewFlag(doc.Name)
	f.SetStyle(doc.Separator, doc.Prefix)
	return f, nil
}

// parseCompact handles the v2 shorthand: {"and": [...]}, {"or": [...]},
// {"on": subject, <modifier>: ...} and single-key leaves.
func parseCompact(obj map[string]json.RawMessage) (Node, error) {
	var postprocessors []json.RawMessage
	if raw, ok := obj["postprocessors"]; ok {
		if err := json.Unmarshal(raw, &postprocessors); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}

	if raw, ok := obj["and"]; ok && firstByte(raw) == '[' {
		var descendants []json.RawMessage
		if err := json.Unmarshal(raw, &descendants); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return fillInner(NewAnd(), descendants, postprocessors)
	}
	if raw, ok := obj["or"]; ok && firstByte(raw) == '[' {
		var descendants []json.RawMessage
		if err := json.Unmarshal(raw, &descendants); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return fillInner(NewOr(), descendants, postprocessors)
	}

	if subject, ok := obj["on"]; ok {
		s, err := parseRaw(subject)
		if err != nil {
			return nil, err
		}
		p, err := compactPostprocessor(obj)
		if err != nil {
			return nil, err
		}
		a := NewAnd(s)
		a.AddPostprocessor(p)
		return a, nil
	}

	name, err := singleKey(obj, "match")
	if err != nil {
		return nil, err
	}
	value := obj[name]
	match := ""
	if raw, ok := obj["match"]; ok {
		if err := json.Unmarshal(raw, &match); err != nil {
			return nil, fmt.Errorf("%w: match must be a string", ErrInvalidDocument)
		}
	}

	switch firstByte(value) {
	case '[':
		return discreteFromValues(name, value)
	case '"':
		var path string
		if err := json.Unmarshal(value, &path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		if info.IsDir() {
			return NewDirectory(name, path, match)
		}
		return NewFile(name, path, match)
	case '{':
		var shape map[string]json.RawMessage
		if err := json.Unmarshal(value, &shape); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if _, ok := shape["step"]; ok {
			return discreteFromValues(name, value)
		}
		iv, err := intervalFrom(name, value)
		if err != nil {
			return nil, err
		}
		return NewContinuous(name, iv.Min, iv.Max), nil
	}
	return nil, fmt.Errorf("%w: cannot infer a node for %q", ErrInvalidDocument, name)
}

// compactPostprocessor translates the modifier keys of an "on" object into a
// v1 postprocessor document.
func compactPostprocessor(obj map[string]json.RawMessage) (postproc.Postprocessor, error) {
	doc := map[string]json.RawMessage{}
	set := func(key string, v any) {
		b, _ := json.Marshal(v)
		doc[key] = b
	}

	switch {
	case has(obj, "hammersley"):
		set("type", "hammersley")
		doc["points"] = obj["hammersley"]
	case has(obj, "rounding"):
		set("type", "rounding")
		doc["round"] = obj["rounding"]
		if raw, ok := obj["force_precision"]; ok {
			doc["force_precision"] = raw
		}
	case has(obj, "rename"):
		set("type", "renaming")
		doc["rename"] = obj["rename"]
	case has(obj, "counter"):
		set("type", "counter")
		doc["name"] = obj["counter"]
		if raw, ok := obj["init"]; ok {
			doc["init"] = raw
		}
	case has(obj, "sort"):
		set("type", "sorting")
		doc["order"] = obj["sort"]
	case has(obj, "ignore"):
		set("type", "ignore")
		doc["match"] = obj["ignore"]
	default:
		name, err := singleKey(obj, "on", "match")
		if err != nil {
			return nil, err
		}
		set("type", "expression")
		set("result", name)
		if raw, ok := obj["match"]; ok {
			doc["match"] = raw
		}
		value := obj[name]
		switch firstByte(value) {
		case '"':
			doc["expression"] = value
		case '{':
			var bounds map[string]json.RawMessage
			if err := json.Unmarshal(value, &bounds); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
			}
			doc["min"] = bounds["min"]
			doc["max"] = bounds["max"]
		default:
			return nil, fmt.Errorf("%w: unrecognized modifier %q", ErrInvalidDocument, name)
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return postproc.Parse(raw)
}

// singleKey returns the only key of obj outside ignored.
func singleKey(obj map[string]json.RawMessage, ignored ...string) (string, error) {
	var keys []string
	for k := range obj {
		skip := false
		for _, ig := range ignored {
			if k == ig {
				skip = true
				break
			}
		}
		if !skip {
			keys = append(keys, k)
		}
	}
	if len(keys) != 1 {
		sort.Strings(keys)
		return "", fmt.Errorf("%w: expected exactly one key, got %v", ErrInvalidDocument, keys)
	}
	return keys[0], nil
}

func has(obj map[string]json.RawMessage, key string) bool {
	_, ok := obj[key]
	return ok
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
