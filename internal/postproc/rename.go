package postproc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vk/sweepgridgo/internal/param"
)

const kindRename = "renaming"

// Renaming maps one parameter name to another.
type Renaming struct {
	Old string
	New string
}

// Rename renames parameters. Renamings apply in order, so a chain a→b, b→c
// turns a into c.
type Rename struct {
	stateless
	renames []Renaming
}

// NewRename creates a Rename stage.
func NewRename(renames ...Renaming) *Rename {
	return &Rename{renames: renames}
}

func parseRename(raw json.RawMessage) (Postprocessor, error) {
	var doc struct {
		Rename json.RawMessage `json:"rename"`
		Old    string          `json:"old"`
		New    string          `json:"new"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	if len(doc.Rename) == 0 {
		if doc.Old == "" {
			return nil, errors.New(`either "rename" or "old"/"new" is required`)
		}
		return NewRename(Renaming{Old: doc.Old, New: doc.New}), nil
	}
	return renameFromObject(doc.Rename)
}

func renameFromObject(raw json.RawMessage) (*Rename, error) {
	entries, err := decodeOrdered(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid rename map: %w", err)
	}
	renames := make([]Renaming, 0, len(entries))
	for _, e := range entries {
		var to any
		if err := json.Unmarshal(e.Value, &to); err != nil {
			return nil, err
		}
		renames = append(renames, Renaming{Old: e.Key, New: param.FormatValue(to)})
	}
	return NewRename(renames...), nil
}

func (r *Rename) Kind() string { return kindRename }

func (r *Rename) Process(params param.List) param.List {
	out := params.Clone()
	for i := range out {
		for _, rn := range r.renames {
			if out[i].Name == rn.Old {
				out[i].Name = rn.New
			}
		}
	}
	return out
}

func (r *Rename) MarshalJSON() ([]byte, error) {
	obj := make(orderedObject, 0, len(r.renames))
	for _, rn := range r.renames {
		v, err := json.Marshal(rn.New)
		if err != nil {
			return nil, err
		}
		obj = append(obj, entry{Key: rn.Old, Value: v})
	}
	return json.Marshal(struct {
		Type   string        `json:"type"`
		Rename orderedObject `json:"rename"`
	}{kindRename, obj})
}
