package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// SequenceAllocator lee y avanza el secuencial de un (punto de emisión, ambiente).
// PeekNext no modifica nada; Commit deja el contador en value+1 y debe ejecutarse
// en la misma transacción que el paso a Sent.
type SequenceAllocator struct {
	points repository.EmissionPointRepository
}

// NewSequenceAllocator crea el allocator sobre el repositorio de puntos de emisión.
func NewSequenceAllocator(points repository.EmissionPointRepository) *SequenceAllocator {
	return &SequenceAllocator{points: points}
}

// WithRepository devuelve un allocator que usa repo (p. ej. el de una transacción).
func (a *SequenceAllocator) WithRepository(repo repository.EmissionPointRepository) *SequenceAllocator {
	return &SequenceAllocator{points: repo}
}

// PeekNext devuelve el próximo secuencial sin consumirlo.
func (a *SequenceAllocator) PeekNext(ctx context.Context, pointID string, env sri.Environment) (int64, error) {
	if !env.Valid() {
		return 0, fmt.Errorf("%w: ambiente %q", domain.ErrInvalidInput, env)
	}
	n, err := a.points.PeekSequence(ctx, pointID, env)
	if err != nil {
		return 0, fmt.Errorf("secuencial %s/%s: %w", pointID, env, err)
	}
	return n, nil
}

// Commit consume value: el contador queda en value+1. value debe ser >= al contador actual.
func (a *SequenceAllocator) Commit(ctx context.Context, pointID string, env sri.Environment, value int64) error {
	if !env.Valid() {
		return fmt.Errorf("%w: ambiente %q", domain.ErrInvalidInput, env)
	}
	if value < 1 {
		return fmt.Errorf("%w: secuencial %d", domain.ErrInvalidInput, value)
	}
	if err := a.points.CommitSequence(ctx, pointID, env, value); err != nil {
		return fmt.Errorf("commit secuencial %d en %s/%s: %w", value, pointID, env, err)
	}
	return nil
}

// SequenceLockKey es la clave de exclusión mutua de un (punto, ambiente).
func SequenceLockKey(pointID string, env sri.Environment) string {
	return fmt.Sprintf("point:%s:env:%s", pointID, env.Code())
}

// KeyedMutex es un Locker en proceso: un mutex por clave, liberado cuando nadie lo usa.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex crea un KeyedMutex vacío.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock espera el turno de key o la cancelación de ctx.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
