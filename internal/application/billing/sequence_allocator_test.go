package billing_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/comprobantes-sri/internal/application/billing"
	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

func newAllocator() (*billing.SequenceAllocator, *memStore) {
	s := newMemStore()
	seedStore(s)
	return billing.NewSequenceAllocator(memPoints{s}), s
}

func TestSequenceAllocator_PeekNoModifica(t *testing.T) {
	a, s := newAllocator()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		n, err := a.PeekNext(ctx, pointID, sri.EnvironmentTest)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}
	assert.Equal(t, 0, s.commitCount())
}

func TestSequenceAllocator_CommitAvanzaAValorMasUno(t *testing.T) {
	a, s := newAllocator()
	ctx := context.Background()

	n, err := a.PeekNext(ctx, pointID, sri.EnvironmentTest)
	require.NoError(t, err)
	require.NoError(t, a.Commit(ctx, pointID, sri.EnvironmentTest, n))

	next, err := a.PeekNext(ctx, pointID, sri.EnvironmentTest)
	require.NoError(t, err)
	assert.Equal(t, n+1, next)

	// Saltar hacia adelante es válido (value >= actual).
	require.NoError(t, a.Commit(ctx, pointID, sri.EnvironmentTest, 10))
	assert.Equal(t, int64(11), s.counter(pointID, sri.EnvironmentTest))
}

func TestSequenceAllocator_AmbientesIndependientes(t *testing.T) {
	a, s := newAllocator()
	ctx := context.Background()
	require.NoError(t, a.Commit(ctx, pointID, sri.EnvironmentProduction, 1))

	assert.Equal(t, int64(2), s.counter(pointID, sri.EnvironmentProduction))
	assert.Equal(t, int64(1), s.counter(pointID, sri.EnvironmentTest))
}

func TestSequenceAllocator_NuncaRetrocede(t *testing.T) {
	a, s := newAllocator()
	ctx := context.Background()
	require.NoError(t, a.Commit(ctx, pointID, sri.EnvironmentTest, 5))

	err := a.Commit(ctx, pointID, sri.EnvironmentTest, 3)
	assert.ErrorIs(t, err, domain.ErrSequenceConflict)
	assert.Equal(t, int64(6), s.counter(pointID, sri.EnvironmentTest))
}

func TestSequenceAllocator_EntradasInvalidas(t *testing.T) {
	a, _ := newAllocator()
	ctx := context.Background()

	_, err := a.PeekNext(ctx, pointID, "staging")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, a.Commit(ctx, pointID, sri.EnvironmentTest, 0), domain.ErrInvalidInput)
	_, err = a.PeekNext(ctx, "no-existe", sri.EnvironmentTest)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSequenceLockKey(t *testing.T) {
	assert.Equal(t, "point:pt-1:env:1", billing.SequenceLockKey("pt-1", sri.EnvironmentTest))
	assert.Equal(t, "point:pt-1:env:2", billing.SequenceLockKey("pt-1", sri.EnvironmentProduction))
}

// ── KeyedMutex ────────────────────────────────────────────────────────────────

func TestKeyedMutex_ExclusionPorClave(t *testing.T) {
	km := billing.NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "point:pt-1:env:1")
			require.NoError(t, err)
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestKeyedMutex_ClavesDistintasNoSeBloquean(t *testing.T) {
	km := billing.NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := km.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("la clave b quedó bloqueada por a")
	}
}

func TestKeyedMutex_CancelacionMientrasEspera(t *testing.T) {
	km := billing.NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotente
	unlock2, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock2()
}
