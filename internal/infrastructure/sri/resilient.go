package sri

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/jhoicas/comprobantes-sri/pkg/logger"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// ResilientConfig parámetros del decorador.
type ResilientConfig struct {
	RateLimit float64 // solicitudes por segundo; <= 0 sin límite
	RateBurst int
	Breaker   BreakerConfig

	// OnStateChange, si no es nil, recibe cada transición del breaker.
	OnStateChange func(BreakerState)
}

// ResilientAuthority envuelve una sri.Authority con un rate limiter y un circuit
// breaker compartidos por recepción y autorización. Con el circuito abierto las
// llamadas fallan sin red y el Poller omite la pasada (ver Available).
type ResilientAuthority struct {
	next    sri.Authority
	limiter *rate.Limiter
	breaker *Breaker
	log     *logger.Logger
}

// NewResilientAuthority construye el decorador.
func NewResilientAuthority(next sri.Authority, cfg ResilientConfig, log *logger.Logger) *ResilientAuthority {
	if log == nil {
		log = logger.Nop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	r := &ResilientAuthority{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewBreaker(cfg.Breaker),
		log:     log.Component("sri.resilient"),
	}
	r.breaker.onTransition = func(from, to BreakerState) {
		r.log.Warn().Str("desde", from.String()).Str("hacia", to.String()).Msg("circuit breaker SRI cambió de estado")
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(to)
		}
	}
	return r
}

// Submit aplica rate limit y breaker a la recepción.
func (r *ResilientAuthority) Submit(ctx context.Context, env sri.Environment, signedXML []byte) (*sri.ReceptionResponse, error) {
	var out *sri.ReceptionResponse
	err := r.do(ctx, "recepcion", func() error {
		var err error
		out, err = r.next.Submit(ctx, env, signedXML)
		return err
	})
	return out, err
}

// Authorize aplica rate limit y breaker a la autorización.
func (r *ResilientAuthority) Authorize(ctx context.Context, env sri.Environment, accessKey string) (*sri.AuthorizationResponse, error) {
	var out *sri.AuthorizationResponse
	err := r.do(ctx, "autorizacion", func() error {
		var err error
		out, err = r.next.Authorize(ctx, env, accessKey)
		return err
	})
	return out, err
}

// Available implementa billing.Availability.
func (r *ResilientAuthority) Available() bool {
	return r.breaker.State() != BreakerOpen
}

// State expone el estado del breaker para health checks.
func (r *ResilientAuthority) State() BreakerState {
	return r.breaker.State()
}

func (r *ResilientAuthority) do(ctx context.Context, op string, fn func() error) error {
	if r.breaker.State() == BreakerOpen {
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", op, err)
	}
	start := time.Now()
	err := r.breaker.Execute(fn)
	if err != nil {
		r.log.Debug().Str("op", op).Dur("duracion", time.Since(start)).Err(err).Msg("llamada al SRI falló")
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var _ sri.Authority = (*ResilientAuthority)(nil)
