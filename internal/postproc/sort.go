package postproc

import (
	"encoding/json"
	"errors"

	"github.com/vk/sweepgridgo/internal/param"
)

const kindSort = "sorting"

// Sort moves the named parameters to the front in the given order. Parameters
// not listed keep their relative order after them.
type Sort struct {
	stateless
	order []string
}

// NewSort creates a Sort stage.
func NewSort(order ...string) *Sort {
	return &Sort{order: order}
}

func parseSort(raw json.RawMessage) (Postprocessor, error) {
	var doc struct {
		Order []string `json:"order"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Order) == 0 {
		return nil, errors.New("order must list at least one parameter")
	}
	return NewSort(doc.Order...), nil
}

func (s *Sort) Kind() string { return kindSort }

func (s *Sort) Process(params param.List) param.List {
	listed := make(map[string]bool, len(s.order))
	out := make(param.List, 0, len(params))
	for _, name := range s.order {
		listed[name] = true
		for _, p := range params {
			if p.Name == name {
				out = append(out, p)
			}
		}
	}
	for _, p := range params {
		if !listed[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

func (s *Sort) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string   `json:"type"`
		Order []string `json:"order"`
	}{kindSort, s.order})
}
