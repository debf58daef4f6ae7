package postproc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/param"
)

type fakeOwner bool

func (o fakeOwner) HasContinuous() bool { return bool(o) }

func TestIgnore(t *testing.T) {
	ig, err := NewIgnore("tmp")
	require.NoError(t, err)

	in := param.List{param.New("tmp_a", 1), param.New("keep", 2), param.New("a_tmp", 3)}
	out := ig.Process(in)

	assert.Equal(t, []string{"keep", "a_tmp"}, out.Names(), "match is anchored at the start of the name")
	assert.Len(t, in, 3)
}

func TestSort(t *testing.T) {
	s := NewSort("c", "a")
	in := param.List{param.New("a", 1), param.New("b", 2), param.New("c", 3), param.New("d", 4)}

	assert.Equal(t, []string{"c", "a", "b", "d"}, s.Process(in).Names())
}

func TestRename(t *testing.T) {
	raw := json.RawMessage(`{"type": "renaming", "rename": {"a": "b", "b": "c"}}`)
	p, err := Parse(raw)
	require.NoError(t, err)

	out := p.Process(param.List{param.New("a", 1), param.New("x", 2)})
	assert.Equal(t, []string{"c", "x"}, out.Names())

	single, err := Parse(json.RawMessage(`{"type": "renaming", "old": "x", "new": "y"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, single.Process(param.List{param.New("x", 1)}).Names())
}

func TestRoundHalfUp(t *testing.T) {
	testCases := []struct {
		v      float64
		digits int
		want   float64
	}{
		{2.345, 2, 2.35},
		{2.344, 0, 2},
		{2.5, 0, 3},
		{1.005, 2, 1.01},
		{-1.5, 0, -1},
		{0.1 + 0.2, 1, 0.3},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, RoundHalfUp(tc.v, tc.digits), "RoundHalfUp(%v, %d)", tc.v, tc.digits)
	}
}

func TestRounding(t *testing.T) {
	t.Run("force precision gives a fixed-width string", func(t *testing.T) {
		r, err := NewRounding(true, RoundingRule{Pattern: "x", Digits: 2})
		require.NoError(t, err)

		out := r.Process(param.List{param.New("x", 2.345)})
		assert.Equal(t, "2.35", out[0].Value)
	})

	t.Run("zero digits gives an integer string", func(t *testing.T) {
		r, err := NewRounding(false, RoundingRule{Pattern: "x", Digits: 0})
		require.NoError(t, err)

		out := r.Process(param.List{param.New("x", 2.344)})
		assert.Equal(t, "2", out[0].Value)
	})

	t.Run("keeps a float without force precision", func(t *testing.T) {
		r, err := NewRounding(false, RoundingRule{Pattern: "x", Digits: 1})
		require.NoError(t, err)

		out := r.Process(param.List{param.New("x", 0.26), param.New("y", 0.26)})
		assert.Equal(t, 0.3, out[0].Value)
		assert.Equal(t, 0.26, out[1].Value, "non-matching parameters are untouched")
	})

	t.Run("skips flags and strings", func(t *testing.T) {
		r, err := NewRounding(false, RoundingRule{Pattern: ".*", Digits: 1})
		require.NoError(t, err)

		in := param.List{param.New("flag", nil), param.New("s", "abc")}
		assert.Equal(t, in, r.Process(in))
	})
}

func TestCounter(t *testing.T) {
	c := NewCounter("id", 5)
	in := param.List{param.New("x", 1)}

	first := c.Process(in)
	c.StartTuple()
	second := c.Process(in)

	assert.Equal(t, 5, first[1].Value)
	assert.Equal(t, 6, second[1].Value, "the counter survives tuple changes")
	assert.Len(t, in, 1)

	c.Reset()
	assert.Equal(t, 5, c.Process(in)[1].Value)
}

func TestHammersley(t *testing.T) {
	h, err := NewHammersley(4)
	require.NoError(t, err)

	t.Run("count depends on the owner", func(t *testing.T) {
		Attach(h, fakeOwner(false))
		assert.Equal(t, 1, h.Count())
		Attach(h, fakeOwner(true))
		assert.Equal(t, 4, h.Count())
	})

	t.Run("samples every point for a tuple", func(t *testing.T) {
		h.StartTuple()
		in := param.List{param.New("k", "v"), param.NewInterval("x", 0, 10), param.NewInterval("y", 0, 1)}

		var firsts, seconds []float64
		for h.HasMore(in) {
			out := h.Process(in)
			require.Len(t, out, 3)
			require.False(t, out.HasInterval())
			firsts = append(firsts, out[1].Value.(float64))
			seconds = append(seconds, out[2].Value.(float64))
		}

		assert.Equal(t, []float64{2.5, 5, 7.5, 10}, firsts)
		assert.Equal(t, []float64{0.5, 0.25, 0.75, 0.125}, seconds)
	})

	t.Run("no intervals means no fan-out", func(t *testing.T) {
		h.Reset()
		in := param.List{param.New("k", 1)}
		assert.False(t, h.HasMore(in))
		assert.Equal(t, in, h.Process(in))
	})

	t.Run("higher dimensions use consecutive primes", func(t *testing.T) {
		p := h.Point(3, 5)
		want := []float64{0.75, radicalInverse(3, 2), radicalInverse(3, 3), radicalInverse(3, 5), radicalInverse(3, 7)}
		if diff := cmp.Diff(want, p); diff != "" {
			t.Errorf("Point mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 11, nthPrime(4))
		assert.Equal(t, 541, nthPrime(99))
	})
}

func TestExpression(t *testing.T) {
	t.Run("appends the result", func(t *testing.T) {
		e, err := NewExpression(ExpressionConfig{Result: "z", Expression: "x.value * y.value"})
		require.NoError(t, err)

		out := e.Process(param.List{param.New("x", 2.0), param.New("y", 3.0)})
		want := param.List{param.New("x", 2.0), param.New("y", 3.0), param.New("z", 6.0)}
		assert.Equal(t, want, out)
	})

	t.Run("replaces a captured parameter with the same name", func(t *testing.T) {
		e, err := NewExpression(ExpressionConfig{Match: "x", Result: "x", Expression: "x.value + 1"})
		require.NoError(t, err)

		out := e.Process(param.List{param.New("x", 2.0), param.New("y", 3.0)})
		assert.Equal(t, param.List{param.New("y", 3.0), param.New("x", 3.0)}, out)
	})

	t.Run("only captured parameters are visible", func(t *testing.T) {
		e, err := NewExpression(ExpressionConfig{Match: "a", Result: "z", Expression: "b.value"})
		require.NoError(t, err)

		in := param.List{param.New("a", 1.0), param.New("b", 2.0)}
		assert.Equal(t, in, e.Process(in))
		assert.Equal(t, 1, e.Failures())
	})

	t.Run("interval result", func(t *testing.T) {
		e, err := NewExpression(ExpressionConfig{Result: "r", Min: "n.value / 2", Max: "n.value * 2", Prefix: "-"})
		require.NoError(t, err)

		out := e.Process(param.List{param.New("n", 4.0)})
		require.Len(t, out, 2)
		require.True(t, out[1].IsInterval())
		assert.Equal(t, param.Interval{Min: 2, Max: 8}, *out[1].Interval)
		assert.Equal(t, "-", out[1].Prefix)
	})

	t.Run("configuration errors", func(t *testing.T) {
		_, err := NewExpression(ExpressionConfig{Result: "z"})
		assert.Error(t, err)
		_, err = NewExpression(ExpressionConfig{Expression: "1"})
		assert.Error(t, err)
		_, err = NewExpression(ExpressionConfig{Result: "z", Expression: "1 +"})
		assert.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		_, err := Parse(json.RawMessage(`{"type": "bogus"}`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownType))
	})

	t.Run("documents survive a marshal and parse cycle", func(t *testing.T) {
		docs := []string{
			`{"type":"ignore","match":"tmp.*"}`,
			`{"type":"sorting","order":["b","a"]}`,
			`{"type":"renaming","rename":{"z":"a","a":"z"}}`,
			`{"type":"rounding","force_precision":true,"round":{"x":2,"y.*":0}}`,
			`{"type":"counter","name":"id","init":3}`,
			`{"type":"hammersley","points":16}`,
			`{"type":"expression","match":"x","expression":"x.value * 2","result":"y"}`,
		}
		for _, doc := range docs {
			p, err := Parse(json.RawMessage(doc))
			require.NoError(t, err, doc)

			out, err := json.Marshal(p)
			require.NoError(t, err)
			assert.JSONEq(t, doc, string(out))
		}
	})

	t.Run("rounding with a single rule", func(t *testing.T) {
		p, err := Parse(json.RawMessage(`{"type":"rounding","match":"x","decimal_digits":1}`))
		require.NoError(t, err)
		assert.Equal(t, 1.3, p.Process(param.List{param.New("x", 1.25)})[0].Value)
	})
}
