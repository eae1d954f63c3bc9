package sri_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrasri "github.com/jhoicas/comprobantes-sri/internal/infrastructure/sri"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

type flakyAuthority struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *flakyAuthority) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyAuthority) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyAuthority) Submit(context.Context, sri.Environment, []byte) (*sri.ReceptionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return &sri.ReceptionResponse{Status: sri.ReceptionReceived}, nil
}

func (f *flakyAuthority) Authorize(_ context.Context, _ sri.Environment, key string) (*sri.AuthorizationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return &sri.AuthorizationResponse{QueriedKey: key}, nil
}

func TestResilientAuthority_AbreYRecupera(t *testing.T) {
	ctx := context.Background()
	inner := &flakyAuthority{fail: true}
	r := infrasri.NewResilientAuthority(inner, infrasri.ResilientConfig{
		Breaker: infrasri.BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: 30 * time.Millisecond},
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Authorize(ctx, sri.EnvironmentTest, testKey)
		require.Error(t, err)
	}
	assert.False(t, r.Available())
	assert.Equal(t, infrasri.BreakerOpen, r.State())

	_, err := r.Submit(ctx, sri.EnvironmentTest, []byte("<x/>"))
	assert.ErrorIs(t, err, infrasri.ErrCircuitOpen)
	assert.Equal(t, 3, inner.count(), "con el circuito abierto no hay llamadas")

	inner.setFail(false)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, infrasri.BreakerHalfOpen, r.State())

	resp, err := r.Submit(ctx, sri.EnvironmentTest, []byte("<x/>"))
	require.NoError(t, err)
	assert.True(t, resp.Received())
	assert.True(t, r.Available())
	assert.Equal(t, infrasri.BreakerClosed, r.State())
}

func TestResilientAuthority_SemiabiertoVuelveAAbrir(t *testing.T) {
	ctx := context.Background()
	inner := &flakyAuthority{fail: true}
	r := infrasri.NewResilientAuthority(inner, infrasri.ResilientConfig{
		Breaker: infrasri.BreakerConfig{FailureThreshold: 1, OpenTimeout: 20 * time.Millisecond},
	}, nil)

	_, err := r.Authorize(ctx, sri.EnvironmentTest, testKey)
	require.Error(t, err)
	time.Sleep(30 * time.Millisecond)

	_, err = r.Authorize(ctx, sri.EnvironmentTest, testKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, infrasri.ErrCircuitOpen, "el sondeo llegó al SRI")
	assert.Equal(t, infrasri.BreakerOpen, r.State())
}

func TestResilientAuthority_RateLimitRespetaContexto(t *testing.T) {
	inner := &flakyAuthority{}
	r := infrasri.NewResilientAuthority(inner, infrasri.ResilientConfig{RateLimit: 0.001, RateBurst: 1}, nil)

	_, err := r.Authorize(context.Background(), sri.EnvironmentTest, testKey)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Authorize(ctx, sri.EnvironmentTest, testKey)
	assert.Error(t, err)
	assert.Equal(t, 1, inner.count())
	assert.True(t, r.Available(), "esperar turno no cuenta como fallo del SRI")
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", infrasri.BreakerClosed.String())
	assert.Equal(t, "open", infrasri.BreakerOpen.String())
	assert.Equal(t, "half-open", infrasri.BreakerHalfOpen.String())
}
