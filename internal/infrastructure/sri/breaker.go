package sri

import (
	"errors"
	"sync"
	"time"
)

// BreakerState es el estado del circuit breaker (Cerrado → Abierto → Semiabierto).
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // las llamadas pasan
	BreakerOpen                         // fallo inmediato
	BreakerHalfOpen                     // se permiten sondeos
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen se devuelve sin llamar al SRI mientras el circuito está abierto.
var ErrCircuitOpen = errors.New("sri: circuit breaker abierto")

// BreakerConfig parámetros del circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // fallos consecutivos para abrir (default 5)
	SuccessThreshold int           // éxitos en semiabierto para cerrar (default 2)
	OpenTimeout      time.Duration // tiempo abierto antes de sondear (default 60s)
}

// Breaker es un circuit breaker seguro para uso concurrente.
type Breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	successes    int
	lastFailure  time.Time
	cfg          BreakerConfig
	now          func() time.Time
	onTransition func(from, to BreakerState)
}

// NewBreaker crea un breaker cerrado.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &Breaker{state: BreakerClosed, cfg: cfg, now: time.Now}
}

// State devuelve el estado actual; pasa de abierto a semiabierto al vencer OpenTimeout.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

func (b *Breaker) currentLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.OpenTimeout {
		b.setLocked(BreakerHalfOpen)
		b.successes = 0
	}
	return b.state
}

// Execute ejecuta fn si el circuito lo permite y registra el resultado.
func (b *Breaker) Execute(fn func() error) error {
	if b.State() == BreakerOpen {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailureLocked()
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *Breaker) onFailureLocked() {
	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.setLocked(BreakerOpen)
			b.successes = 0
		}
	case BreakerHalfOpen:
		b.setLocked(BreakerOpen)
		b.failures = 0
	}
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setLocked(BreakerClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) setLocked(to BreakerState) {
	from := b.state
	b.state = to
	if from != to && b.onTransition != nil {
		b.onTransition(from, to)
	}
}
