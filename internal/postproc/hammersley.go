package postproc

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/vk/sweepgridgo/internal/param"
)

const kindHammersley = "hammersley"

// Hammersley resolves interval parameters by sampling a Hammersley point set.
// For a tuple holding d intervals it emits up to Points samples before the
// owner is allowed to pull the next tuple. Sample k (1-based) has first
// coordinate k/Points; coordinate i > 0 is the radical inverse of k in the
// base of the i-th prime.
type Hammersley struct {
	points  int
	sampled int
	owner   Owner
}

// NewHammersley creates a Hammersley stage with the given number of points.
func NewHammersley(points int) (*Hammersley, error) {
	if points < 1 {
		return nil, errors.New("points must be positive")
	}
	return &Hammersley{points: points}, nil
}

func parseHammersley(raw json.RawMessage) (Postprocessor, error) {
	var doc struct {
		Points float64 `json:"points"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return NewHammersley(int(doc.Points))
}

func (h *Hammersley) attach(owner Owner) { h.owner = owner }

func (h *Hammersley) Kind() string { return kindHammersley }

// Points returns the size of the point set.
func (h *Hammersley) Points() int { return h.points }

func (h *Hammersley) Process(params param.List) param.List {
	var intervals, out param.List
	for _, p := range params {
		if p.IsInterval() {
			intervals = append(intervals, p)
		} else {
			out = append(out, p)
		}
	}
	if len(intervals) == 0 {
		return params
	}

	h.sampled++
	point := h.Point(h.sampled, len(intervals))
	for i, iv := range intervals {
		scaled := iv.Interval.Min + (iv.Interval.Max-iv.Interval.Min)*point[i]
		out = append(out, param.Parameter{
			Name:      iv.Name,
			Value:     scaled,
			Separator: iv.Separator,
			Prefix:    iv.Prefix,
		})
	}
	return out
}

func (h *Hammersley) HasMore(params param.List) bool {
	return params.HasInterval() && h.sampled < h.points
}

// Count is Points when the owner has a continuous leaf below it, else 1.
func (h *Hammersley) Count() int {
	if h.owner != nil && h.owner.HasContinuous() {
		return h.points
	}
	return 1
}

func (h *Hammersley) StartTuple() { h.sampled = 0 }
func (h *Hammersley) Reset()      { h.sampled = 0 }

// Point returns the k-th point (1-based) of the d-dimensional set.
func (h *Hammersley) Point(k, d int) []float64 {
	point := make([]float64, 0, d)
	point = append(point, float64(k)/float64(h.points))
	for i := 0; i < d-1; i++ {
		point = append(point, radicalInverse(k, nthPrime(i)))
	}
	return point
}

func (h *Hammersley) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Points int    `json:"points"`
	}{kindHammersley, h.points})
}

// radicalInverse mirrors the base-b digits of k around the radix point.
func radicalInverse(k, base int) float64 {
	inv := 0.0
	f := 1.0 / float64(base)
	for n := k; n > 0; n /= base {
		inv += float64(n%base) * f
		f /= float64(base)
	}
	return inv
}

var (
	primesMu sync.Mutex
	primes   = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}
)

// nthPrime returns the i-th prime (0-based), extending the table on demand.
func nthPrime(i int) int {
	primesMu.Lock()
	defer primesMu.Unlock()

	for candidate := primes[len(primes)-1] + 2; len(primes) <= i; candidate += 2 {
		isPrime := true
		for _, p := range primes {
			if p*p > candidate {
				break
			}
			if candidate%p == 0 {
				isPrime = false
				break
			}
		}
		if isPrime {
			primes = append(primes, candidate)
		}
	}
	return primes[i]
}
