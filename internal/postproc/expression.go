package postproc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"

	"github.com/vk/sweepgridgo/internal/formula"
	"github.com/vk/sweepgridgo/internal/param"
)

const kindExpression = "expression"

// ExpressionConfig describes an Expression stage. Exactly one of Expression
// or the Min/Max pair must be set.
type ExpressionConfig struct {
	Match      string
	Result     string
	Expression string
	Min        string
	Max        string
	Separator  string
	Prefix     string
}

// Expression evaluates a formula over the captured parameters (those matching
// Match, or all of them) and appends the result as a new parameter. With a
// Min/Max pair the result is an interval for a later stage to resolve. If
// Match also matches the result name, the previous parameter of that name is
// replaced. Evaluation failures leave the tuple unchanged.
type Expression struct {
	stateless
	cfg      ExpressionConfig
	re       *regexp.Regexp
	value    *formula.Formula
	min, max *formula.Formula
	failures int
}

// NewExpression compiles the formulas of cfg.
func NewExpression(cfg ExpressionConfig) (*Expression, error) {
	if cfg.Result == "" {
		return nil, errors.New("result is required")
	}

	e := &Expression{cfg: cfg}
	if cfg.Match != "" {
		re, err := compileMatch(cfg.Match)
		if err != nil {
			return nil, err
		}
		e.re = re
	}

	var err error
	switch {
	case cfg.Expression != "":
		e.value, err = formula.Compile(cfg.Expression)
	case cfg.Min != "" && cfg.Max != "":
		if e.min, err = formula.Compile(cfg.Min); err == nil {
			e.max, err = formula.Compile(cfg.Max)
		}
	default:
		err = errors.New(`either "expression" or "min"/"max" is required`)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func parseExpression(raw json.RawMessage) (Postprocessor, error) {
	var doc struct {
		Match      *string `json:"match"`
		Result     string  `json:"result"`
		Expression string  `json:"expression"`
		Min        string  `json:"min"`
		Max        string  `json:"max"`
		Separator  string  `json:"separator"`
		Prefix     string  `json:"prefix"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	cfg := ExpressionConfig{
		Result:     doc.Result,
		Expression: doc.Expression,
		Min:        doc.Min,
		Max:        doc.Max,
		Separator:  doc.Separator,
		Prefix:     doc.Prefix,
	}
	if doc.Match != nil {
		cfg.Match = *doc.Match
	}
	return NewExpression(cfg)
}

func (e *Expression) Kind() string { return kindExpression }

// Failures returns how many evaluations failed since construction.
func (e *Expression) Failures() int { return e.failures }

func (e *Expression) Process(params param.List) param.List {
	captured := params
	base := params
	if e.re != nil {
		captured = make(param.List, 0, len(params))
		for _, p := range params {
			if e.re.MatchString(p.Name) {
				captured = append(captured, p)
			}
		}
		if e.re.MatchString(e.cfg.Result) {
			base = params.Without(e.cfg.Result)
		}
	}

	result := param.Parameter{Name: e.cfg.Result, Separator: e.cfg.Separator, Prefix: e.cfg.Prefix}
	if e.value != nil {
		v, err := e.value.Eval(captured)
		if err != nil {
			return e.fail(params, err)
		}
		result.Value = v
	} else {
		lo, err := e.min.EvalFloat(captured)
		if err != nil {
			return e.fail(params, err)
		}
		hi, err := e.max.EvalFloat(captured)
		if err != nil {
			return e.fail(params, err)
		}
		result.Interval = &param.Interval{Min: lo, Max: hi}
	}

	out := make(param.List, 0, len(base)+1)
	out = append(out, base...)
	return append(out, result)
}

func (e *Expression) fail(params param.List, err error) param.List {
	e.failures++
	slog.Debug("Expression evaluation failed, tuple left unchanged.", "result", e.cfg.Result, "error", err)
	return params
}

func (e *Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string `json:"type"`
		Separator  string `json:"separator,omitempty"`
		Prefix     string `json:"prefix,omitempty"`
		Match      string `json:"match,omitempty"`
		Expression string `json:"expression,omitempty"`
		Min        string `json:"min,omitempty"`
		Max        string `json:"max,omitempty"`
		Result     string `json:"result"`
	}{
		Type:       kindExpression,
		Separator:  e.cfg.Separator,
		Prefix:     e.cfg.Prefix,
		Match:      e.cfg.Match,
		Expression: e.cfg.Expression,
		Min:        e.cfg.Min,
		Max:        e.cfg.Max,
		Result:     e.cfg.Result,
	})
}
