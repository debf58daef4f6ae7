package postproc

import (
	"encoding/json"
	"regexp"

	"github.com/vk/sweepgridgo/internal/param"
)

const kindIgnore = "ignore"

// Ignore drops every parameter whose name matches a pattern.
type Ignore struct {
	stateless
	pattern string
	re      *regexp.Regexp
}

// NewIgnore creates an Ignore stage.
func NewIgnore(pattern string) (*Ignore, error) {
	re, err := compileMatch(pattern)
	if err != nil {
		return nil, err
	}
	return &Ignore{pattern: pattern, re: re}, nil
}

func parseIgnore(raw json.RawMessage) (Postprocessor, error) {
	var doc struct {
		Match string `json:"match"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return NewIgnore(doc.Match)
}

func (i *Ignore) Kind() string { return kindIgnore }

func (i *Ignore) Process(params param.List) param.List {
	out := make(param.List, 0, len(params))
	for _, p := range params {
		if !i.re.MatchString(p.Name) {
			out = append(out, p)
		}
	}
	return out
}

func (i *Ignore) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Match string `json:"match"`
	}{kindIgnore, i.pattern})
}
