package derive

import (
	"fmt"
	"strings"

	"github.com/Amr-9/StormHunter/pkg/engine"
)

// PoolSize is the jsbn rng_psize.
const PoolSize = 256

// Pool is the entropy pool fed to the stream cipher.
type Pool [PoolSize]byte

// Order is the direction the pool is filled in.
type Order uint8

const (
	// Ascending fills from index 0 upward, as jsbn's rng_pptr++ does.
	Ascending Order = iota

	// Descending fills from index 255 downward.
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// ParseOrder resolves an order by name.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("unknown pool order %q", s)
}

// FillPool draws 128 values of floor(65536 * Math.random()) and writes each
// as its high byte followed by its low byte in the given direction.
func FillPool(s *engine.State, pool *Pool, order Order) {
	if order == Descending {
		for p := PoolSize - 1; p > 0; p -= 2 {
			t := s.Unit16()
			pool[p] = byte(t >> 8)
			pool[p-1] = byte(t)
		}
		return
	}

	for p := 0; p < PoolSize; p += 2 {
		t := s.Unit16()
		pool[p] = byte(t >> 8)
		pool[p+1] = byte(t)
	}
}
