// Package param defines the values produced by parameter expressions: named
// parameters, unresolved interval placeholders, and ordered parameter lists
// that double as order-insensitive configuration keys.
package param

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultPrefix is prepended to every parameter name on the command line.
	DefaultPrefix = "--"
	// DefaultSeparator sits between a parameter name and its value.
	DefaultSeparator = " "
)

// Interval is the unresolved range carried by an interval parameter.
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Parameter is a named value. A nil Value marks a presence-only flag. When
// Interval is set the parameter is a placeholder that a later stage must
// resolve before it is formatted or stored.
type Parameter struct {
	Name      string
	Value     any
	Separator string
	Prefix    string
	Interval  *Interval
}

// New creates a concrete parameter.
func New(name string, value any) Parameter {
	return Parameter{Name: name, Value: value}
}

// NewInterval creates an unresolved interval parameter.
func NewInterval(name string, min, max float64) Parameter {
	return Parameter{Name: name, Interval: &Interval{Min: min, Max: max}}
}

// IsInterval reports whether p still needs to be resolved.
func (p Parameter) IsInterval() bool {
	return p.Interval != nil
}

// WithStyle returns a copy of p using the given separator and prefix overrides.
func (p Parameter) WithStyle(separator, prefix string) Parameter {
	p.Separator = separator
	p.Prefix = prefix
	return p
}

// Format renders p as a command-line token. Overrides stored on the
// parameter take precedence over the arguments.
func (p Parameter) Format(separator, prefix string) string {
	if p.Separator != "" {
		separator = p.Separator
	}
	if p.Prefix != "" {
		prefix = p.Prefix
	}

	var sb strings.Builder
	if p.Name != "" {
		sb.WriteString(prefix)
		sb.WriteString(p.Name)
	}
	if p.Value != nil {
		if p.Name != "" {
			sb.WriteString(separator)
		}
		sb.WriteString(FormatValue(p.Value))
	}
	return sb.String()
}

// String renders p for logs.
func (p Parameter) String() string {
	if p.IsInterval() {
		return fmt.Sprintf("%s=[%s,%s]", p.Name, FormatValue(p.Interval.Min), FormatValue(p.Interval.Max))
	}
	return p.Name + "=" + FormatValue(p.Value)
}

// FormatValue renders a scalar the way it appears on a command line.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Float converts a numeric scalar (or a numeric string) to float64.
func Float(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// List is an ordered tuple of parameters as produced by a generator.
type List []Parameter

// Clone returns a shallow copy of l that can be modified independently.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

// Get returns the first parameter named name.
func (l List) Get(name string) (Parameter, bool) {
	for _, p := range l {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Without returns a copy of l with every parameter named name removed.
func (l List) Without(name string) List {
	out := make(List, 0, len(l))
	for _, p := range l {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the parameter names in order.
func (l List) Names() []string {
	names := make([]string, len(l))
	for i, p := range l {
		names[i] = p.Name
	}
	return names
}

// Map returns the name to value mapping stored on experiment records.
func (l List) Map() map[string]any {
	m := make(map[string]any, len(l))
	for _, p := range l {
		m[p.Name] = p.Value
	}
	return m
}

// HasInterval reports whether any parameter in l is still unresolved.
func (l List) HasInterval() bool {
	for _, p := range l {
		if p.IsInterval() {
			return true
		}
	}
	return false
}

// Key is the canonical, order-insensitive identity of l. Two lists holding
// the same multiset of (name, value) pairs share a key.
func (l List) Key() string {
	parts := make([]string, len(l))
	for i, p := range l {
		parts[i] = p.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, "\x1f")
}

// Equal reports whether l and other hold the same multiset of parameters.
func (l List) Equal(other List) bool {
	return len(l) == len(other) && l.Key() == other.Key()
}

// String renders l for logs.
func (l List) String() string {
	parts := make([]string, len(l))
	for i, p := range l {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Format renders an optional executable followed by every parameter token.
// Empty separator or prefix arguments fall back to the defaults.
func Format(executable string, params List, separator, prefix string) string {
	if separator == "" {
		separator = DefaultSeparator
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	tokens := make([]string, 0, len(params)+1)
	if executable != "" {
		tokens = append(tokens, executable)
	}
	for _, p := range params {
		tokens = append(tokens, p.Format(separator, prefix))
	}
	return strings.Join(tokens, " ")
}

// MatchValues reports whether two scalars render identically. Records that
// went through a JSON store come back as float64 even if they were produced
// as integers, so identity is decided on the rendered form.
func MatchValues(a, b any) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return FormatValue(a) == FormatValue(b)
}
