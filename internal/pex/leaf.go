package pex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/sweepgridgo/internal/param"
)

// ErrNoValues is returned when a leaf would generate nothing.
var ErrNoValues = errors.New("no values generated")

// leaf holds the naming and rendering style shared by all leaves.
type leaf struct {
	name      string
	separator string
	prefix    string
}

func (l *leaf) Name() string { return l.name }

// SetStyle overrides the separator and prefix of every parameter the leaf emits.
func (l *leaf) SetStyle(separator, prefix string) {
	l.separator = separator
	l.prefix = prefix
}

func (l *leaf) HasContinuous() bool { return false }

func (l *leaf) param(value any) param.Parameter {
	return param.Parameter{Name: l.name, Value: value, Separator: l.separator, Prefix: l.prefix}
}

type leafDoc struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Separator string `json:"separator,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Values    any    `json:"values,omitempty"`
	Path      string `json:"path,omitempty"`
	Match     string `json:"match,omitempty"`
}

func (l *leaf) doc(kind string) leafDoc {
	return leafDoc{Type: kind, Name: l.name, Separator: l.separator, Prefix: l.prefix}
}

// Range is an arithmetic progression from Min to Max, both included when
// reachable.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Len is the number of values in the range.
func (r Range) Len() int {
	return int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
}

// Values expands the range. Accumulated float noise is trimmed to 12
// significant digits.
func (r Range) Values() []any {
	n := r.Len()
	values := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v := r.Min + float64(i)*r.Step
		v, _ = strconv.ParseFloat(strconv.FormatFloat(v, 'g', 12, 64), 64)
		values = append(values, v)
	}
	return values
}

func (r Range) validate() error {
	if r.Step <= 0 {
		return fmt.Errorf("%w: step must be positive, got %v", ErrNoValues, r.Step)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%w: max %v is below min %v", ErrNoValues, r.Max, r.Min)
	}
	return nil
}

// Discrete enumerates an explicit list of values.
type Discrete struct {
	leaf
	values []any
	rng    *Range
	index  int
}

// NewDiscrete creates a leaf over an explicit value list.
func NewDiscrete(name string, values ...any) *Discrete {
	return &Discrete{leaf: leaf{name: name}, values: values}
}

// NewRange creates a leaf over an arithmetic range.
func NewRange(name string, r Range) (*Discrete, error) {
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}
	return &Discrete{leaf: leaf{name: name}, values: r.Values(), rng: &r}, nil
}

// Values returns the enumerated values.
func (d *Discrete) Values() []any { return d.values }

// AddValue appends a value to the list.
func (d *Discrete) AddValue(v any) {
	d.values = append(d.values, v)
	d.rng = nil
}

func (d *Discrete) Next() param.List {
	v := d.values[d.index]
	d.index++
	return param.List{d.param(v)}
}

func (d *Discrete) HasMore() bool { return d.index < len(d.values) }
func (d *Discrete) Reset()        { d.index = 0 }
func (d *Discrete) Count() int    { return len(d.values) }

func (d *Discrete) MarshalJSON() ([]byte, error) {
	doc := d.doc(kindDiscrete)
	if d.rng != nil {
		doc.Values = d.rng
	} else {
		doc.Values = d.values
	}
	return json.Marshal(doc)
}

// File enumerates the non-empty lines of a text file.
type File struct {
	Discrete
	path  string
	match string
}

// NewFile reads path and keeps the right-trimmed, non-empty lines matching
// pattern. An empty pattern keeps every line.
func NewFile(name, path, pattern string) (*File, error) {
	re, err := compileLeafMatch(pattern)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}

	f := &File{Discrete: Discrete{leaf: leaf{name: name}}, path: path, match: pattern}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n\v\f")
		if line == "" {
			continue
		}
		if re == nil || re.MatchString(line) {
			f.values = append(f.values, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}
	if len(f.values) == 0 {
		return nil, fmt.Errorf("parameter %q: %w from %s", name, ErrNoValues, path)
	}
	return f, nil
}

func (f *File) MarshalJSON() ([]byte, error) {
	doc := f.doc(kindFile)
	doc.Path = f.path
	doc.Match = f.match
	return json.Marshal(doc)
}

// Directory enumerates the regular files of a directory whose names match a
// pattern. Values are the joined paths, in lexical order.
type Directory struct {
	Discrete
	path  string
	match string
}

// NewDirectory lists path. An empty pattern keeps every file.
func NewDirectory(name, path, pattern string) (*Directory, error) {
	re, err := compileLeafMatch(pattern)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}

	d := &Directory{Discrete: Discrete{leaf: leaf{name: name}}, path: path, match: pattern}
	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if re == nil || re.MatchString(e.Name()) {
			d.values = append(d.values, full)
		}
	}
	if len(d.values) == 0 {
		return nil, fmt.Errorf("parameter %q: %w from %s", name, ErrNoValues, path)
	}
	return d, nil
}

func (d *Directory) MarshalJSON() ([]byte, error) {
	doc := d.doc(kindDirectory)
	doc.Path = d.path
	doc.Match = d.match
	return json.Marshal(doc)
}

func compileLeafMatch(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Continuous yields a single unresolved interval parameter. A Hammersley or
// Expression stage further up the tree turns it into concrete values.
type Continuous struct {
	leaf
	min, max float64
	emitted  bool
}

// NewContinuous creates an interval leaf over [min, max].
func NewContinuous(name string, min, max float64) *Continuous {
	return &Continuous{leaf: leaf{name: name}, min: min, max: max}
}

func (c *Continuous) Next() param.List {
	c.emitted = true
	p := c.param(nil)
	p.Interval = &param.Interval{Min: c.min, Max: c.max}
	return param.List{p}
}

func (c *Continuous) HasMore() bool       { return !c.emitted }
func (c *Continuous) Reset()              { c.emitted = false }
func (c *Continuous) Count() int          { return 1 }
func (c *Continuous) HasContinuous() bool { return true }

func (c *Continuous) MarshalJSON() ([]byte, error) {
	doc := c.doc(kindContinuous)
	doc.Values = param.Interval{Min: c.min, Max: c.max}
	return json.Marshal(doc)
}

// Flag yields a single presence-only parameter.
type Flag struct {
	leaf
	emitted bool
}

// NewFlag creates a flag leaf.
func NewFlag(name string) *Flag {
	return &Flag{leaf: leaf{name: name}}
}

func (f *Flag) Next() param.List {
	f.emitted = true
	return param.List{f.param(nil)}
}

func (f *Flag) HasMore() bool { return !f.emitted }
func (f *Flag) Reset()        { f.emitted = false }
func (f *Flag) Count() int    { return 1 }

func (f *Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.doc(kindFlag))
}
