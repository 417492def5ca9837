// Package portpool allocates console ports from a fixed range.
package portpool

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/jbweber/corral/internal/errdefs"
)

const (
	// DefaultMin and DefaultMax bound the VNC display range.
	DefaultMin = 5900
	DefaultMax = 65535
)

var (
	// ErrPortInUse is returned when an explicitly requested port is taken.
	ErrPortInUse = fmt.Errorf("%w: port in use", errdefs.ErrResourceExhausted)

	// ErrPoolExhausted is returned when no free port remains.
	ErrPoolExhausted = fmt.Errorf("%w: port pool exhausted", errdefs.ErrResourceExhausted)
)

// Pool is a bitmap over [Min, Max). The zero value is not usable; use New.
type Pool struct {
	mu   sync.Mutex
	min  int
	max  int
	used *bitset.BitSet
}

// New creates a pool covering ports [min, max).
func New(min, max int) (*Pool, error) {
	if min <= 0 || max <= min || max > 65536 {
		return nil, fmt.Errorf("invalid port range [%d, %d)", min, max)
	}
	return &Pool{
		min:  min,
		max:  max,
		used: bitset.New(uint(max - min)),
	}, nil
}

// Min returns the first port in the range.
func (p *Pool) Min() int { return p.min }

// Max returns the first port past the range.
func (p *Pool) Max() int { return p.max }

// Reserve marks a port as used. A port of 0 picks the lowest free port.
func (p *Pool) Reserve(port int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port != 0 {
		if !p.contains(port) {
			return 0, fmt.Errorf("port %d outside range [%d, %d)", port, p.min, p.max)
		}
		idx := uint(port - p.min)
		if p.used.Test(idx) {
			return 0, fmt.Errorf("%w: %d", ErrPortInUse, port)
		}
		p.used.Set(idx)
		return port, nil
	}

	idx, ok := p.used.NextClear(0)
	if !ok || idx >= uint(p.max-p.min) {
		return 0, ErrPoolExhausted
	}
	p.used.Set(idx)
	return p.min + int(idx), nil
}

// Release frees a port. Releasing a free or out-of-range port does nothing.
func (p *Pool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.contains(port) {
		return
	}
	p.used.Clear(uint(port - p.min))
}

// InUse reports whether port is currently reserved.
func (p *Pool) InUse(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.contains(port) && p.used.Test(uint(port-p.min))
}

// Used returns the number of reserved ports.
func (p *Pool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return int(p.used.Count())
}

func (p *Pool) contains(port int) bool {
	return port >= p.min && port < p.max
}
