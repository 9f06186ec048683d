package testutil

import (
	"math"
	"math/bits"
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns, as a float64, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Perm returns a random permutation of [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// Shuffle randomizes the order of n elements using swap.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(n, swap)
}

// Fork returns an independent RNG seeded from r.
// Use one fork per goroutine to avoid contention on r.
func (r *RNG) Fork() *RNG {
	r.mu.Lock()
	seed := r.rand.Int63()
	r.mu.Unlock()
	return NewRNG(seed)
}

// LogUniform returns a value in [lo, hi] whose logarithm is uniformly
// distributed. Small values dominate, as in real allocation traces.
func (r *RNG) LogUniform(lo, hi int) int {
	if lo < 1 {
		lo = 1
	}
	if hi <= lo {
		return lo
	}

	r.mu.Lock()
	u := r.rand.Float64()
	r.mu.Unlock()

	l, h := math.Log(float64(lo)), math.Log(float64(hi)+1)
	v := int(math.Exp(l + u*(h-l)))
	return min(max(v, lo), hi)
}

// PowerOfTwo returns a random power of two in [lo, hi]. Both bounds are
// rounded to powers of two first.
func (r *RNG) PowerOfTwo(lo, hi int) int {
	a := bits.Len(uint(max(lo, 1)) - 1)
	b := bits.Len(uint(max(hi, 1))) - 1
	if b <= a {
		return 1 << a
	}
	return 1 << (a + r.Intn(b-a+1))
}

// Zipf returns a Zipfian-distributed value in [0, n).
// s=1.0 gives standard Zipf, s=1.5 gives a heavy tail.
func (r *RNG) Zipf(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}

	return n - 1
}
