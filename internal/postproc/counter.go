package postproc

import (
	"encoding/json"
	"errors"

	"github.com/vk/sweepgridgo/internal/param"
)

const kindCounter = "counter"

// Counter appends an auto-incrementing parameter to every emitted tuple. The
// counter survives tuple changes and restarts only on Reset.
type Counter struct {
	name    string
	init    int
	counter int
}

// NewCounter creates a Counter stage starting at init.
func NewCounter(name string, init int) *Counter {
	return &Counter{name: name, init: init, counter: init}
}

func parseCounter(raw json.RawMessage) (Postprocessor, error) {
	var doc struct {
		Name string   `json:"name"`
		Init *float64 `json:"init"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Name == "" {
		return nil, errors.New("name is required")
	}
	init := 0
	if doc.Init != nil {
		init = int(*doc.Init)
	}
	return NewCounter(doc.Name, init), nil
}

func (c *Counter) Kind() string { return kindCounter }

func (c *Counter) Process(params param.List) param.List {
	out := make(param.List, 0, len(params)+1)
	out = append(out, params...)
	out = append(out, param.New(c.name, c.counter))
	c.counter++
	return out
}

func (c *Counter) HasMore(param.List) bool { return false }
func (c *Counter) Count() int              { return 1 }
func (c *Counter) StartTuple()             {}
func (c *Counter) Reset()                  { c.counter = c.init }

func (c *Counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Name string `json:"name"`
		Init int    `json:"init"`
	}{kindCounter, c.name, c.init})
}
