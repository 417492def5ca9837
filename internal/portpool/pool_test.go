package portpool

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/corral/internal/errdefs"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		wantErr  bool
	}{
		{name: "vnc range", min: DefaultMin, max: DefaultMax},
		{name: "single port", min: 6000, max: 6001},
		{name: "empty range", min: 6000, max: 6000, wantErr: true},
		{name: "inverted range", min: 6001, max: 6000, wantErr: true},
		{name: "zero min", min: 0, max: 10, wantErr: true},
		{name: "past port space", min: 65000, max: 70000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.min, tt.max)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.min, p.Min())
			assert.Equal(t, tt.max, p.Max())
			assert.Zero(t, p.Used())
		})
	}
}

func TestReserveLowestFree(t *testing.T) {
	p, err := New(5900, 5910)
	require.NoError(t, err)

	for want := 5900; want < 5903; want++ {
		got, err := p.Reserve(0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	p.Release(5901)
	got, err := p.Reserve(0)
	require.NoError(t, err)
	assert.Equal(t, 5901, got, "released port is handed out again")
}

func TestReserveExhaustion(t *testing.T) {
	p, err := New(5900, 5902)
	require.NoError(t, err)

	first, err := p.Reserve(0)
	require.NoError(t, err)
	second, err := p.Reserve(0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = p.Reserve(0)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.ErrorIs(t, err, errdefs.ErrResourceExhausted)

	p.Release(first)
	again, err := p.Reserve(0)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestReserveExplicit(t *testing.T) {
	p, err := New(5900, 5910)
	require.NoError(t, err)

	got, err := p.Reserve(5905)
	require.NoError(t, err)
	assert.Equal(t, 5905, got)
	assert.True(t, p.InUse(5905))

	_, err = p.Reserve(5905)
	require.ErrorIs(t, err, ErrPortInUse)
	assert.True(t, errors.Is(err, errdefs.ErrResourceExhausted))

	_, err = p.Reserve(7000)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPortInUse))
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, err := New(5900, 5910)
	require.NoError(t, err)

	port, err := p.Reserve(0)
	require.NoError(t, err)

	p.Release(port)
	p.Release(port)
	p.Release(1)
	p.Release(99999)

	assert.False(t, p.InUse(port))
	assert.Zero(t, p.Used())
}

func TestConcurrentReserveNeverDuplicates(t *testing.T) {
	p, err := New(5900, 6000)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = map[int]bool{}
		fails int
	)
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := p.Reserve(0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fails++
				return
			}
			assert.False(t, seen[port], "port %d handed out twice", port)
			seen[port] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	assert.Equal(t, 50, fails)
	assert.Equal(t, 100, p.Used())
}
