package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFinder(t *testing.T, m MDNSResolver, maxElapsed time.Duration) *Finder {
	t.Helper()
	return NewFinder(FinderConfig{
		Resolver:        newTestResolver(t, m),
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		MaxElapsedTime:  maxElapsed,
		LookupTimeout:   50 * time.Millisecond,
	})
}

func TestFinderWaitsForAdvertisement(t *testing.T) {
	mem := NewMemoryResolver()
	f := newTestFinder(t, mem, 5*time.Second)

	go func() {
		time.Sleep(60 * time.Millisecond)
		mem.RegisterService(ServiceOperational, OperationalServiceEntry(testCFID, 0x42, 5540,
			[]net.IP{net.ParseIP("fd00::42")}, OperationalTXT{}))
	}()

	node, err := f.Find(context.Background(), testCFID, 0x42)
	require.NoError(t, err)
	assert.Equal(t, 5540, node.Port)
	assert.Greater(t, mem.LookupCount(), 1, "expected retries before the node appeared")
}

func TestFinderGivesUp(t *testing.T) {
	mem := NewMemoryResolver()
	f := newTestFinder(t, mem, 80*time.Millisecond)

	_, err := f.Find(context.Background(), testCFID, 0x42)
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.Greater(t, mem.LookupCount(), 1)
}

func TestFinderRetriesTimeouts(t *testing.T) {
	f := newTestFinder(t, silentResolver{}, 200*time.Millisecond)

	_, err := f.Find(context.Background(), testCFID, 0x42)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFinderContextCancel(t *testing.T) {
	mem := NewMemoryResolver()
	f := newTestFinder(t, mem, -1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Find(ctx, testCFID, 0x42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout),
		"unexpected error %v", err)
}

func TestNewFinderRequiresResolver(t *testing.T) {
	assert.Panics(t, func() { NewFinder(FinderConfig{}) })
}
