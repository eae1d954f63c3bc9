package billing

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/pkg/logger"
)

// Operations son las operaciones que el Poller reinvoca. *Lifecycle la implementa.
type Operations interface {
	SendToSRI(ctx context.Context, id string) (*entity.Comprobante, error)
	ValidateInSRI(ctx context.Context, id string) (*entity.Comprobante, error)
	CheckIfAnnulledInSRI(ctx context.Context, id string) (*entity.Comprobante, error)
}

// Availability indica si el SRI está disponible (circuit breaker cerrado).
type Availability interface {
	Available() bool
}

// PollerConfig parámetros del scheduler.
type PollerConfig struct {
	Interval          time.Duration
	BatchSize         int
	Concurrency       int
	AnnulmentWindow   time.Duration
	AnnulmentThrottle time.Duration
}

// TickResult resume una pasada del Poller.
type TickResult struct {
	Processed int
	Failed    int
	Skipped   bool
}

// Poller reinvoca periódicamente send_to_SRI (ReadyToSend), validate_in_SRI (Sent)
// y check_if_annulled_in_SRI (Accepted dentro de la ventana). No reintenta dentro
// de una pasada: lo que falla se vuelve a intentar en el siguiente tick.
type Poller struct {
	ops          Operations
	comprobantes repository.ComprobanteRepository
	availability Availability
	cfg          PollerConfig
	log          *logger.Logger
	now          func() time.Time
}

// NewPoller construye el scheduler. availability puede ser nil.
func NewPoller(ops Operations, comprobantes repository.ComprobanteRepository, availability Availability, cfg PollerConfig, log *logger.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.AnnulmentWindow <= 0 {
		cfg.AnnulmentWindow = 15 * 24 * time.Hour
	}
	if cfg.AnnulmentThrottle <= 0 {
		cfg.AnnulmentThrottle = time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{
		ops:          ops,
		comprobantes: comprobantes,
		availability: availability,
		cfg:          cfg,
		log:          log.Component("billing.poller"),
		now:          time.Now,
	}
}

// Start lanza el loop en una goroutine; termina al cancelar ctx.
func (p *Poller) Start(ctx context.Context) {
	go p.Run(ctx)
}

// Run bloquea ejecutando una pasada por tick hasta que ctx se cancela.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", p.cfg.Interval).Msg("poller iniciado")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller detenido")
			return
		case <-ticker.C:
			res := p.Tick(ctx)
			if res.Processed > 0 || res.Failed > 0 {
				p.log.Info().Int("procesados", res.Processed).Int("fallidos", res.Failed).Msg("pasada del poller")
			}
		}
	}
}

// Tick ejecuta una pasada completa: envíos, validaciones y anulaciones.
func (p *Poller) Tick(ctx context.Context) TickResult {
	if p.availability != nil && !p.availability.Available() {
		p.log.Debug().Msg("circuit breaker abierto, se omite la pasada")
		return TickResult{Skipped: true}
	}

	var total TickResult
	phases := []struct {
		name string
		list func(ctx context.Context) ([]*entity.Comprobante, error)
		run  func(ctx context.Context, id string) (*entity.Comprobante, error)
	}{
		{
			name: entity.OpSendToSRI,
			list: func(ctx context.Context) ([]*entity.Comprobante, error) {
				return p.comprobantes.ListByStatus(ctx, entity.StatusReadyToSend, p.cfg.BatchSize)
			},
			run: p.ops.SendToSRI,
		},
		{
			name: entity.OpValidateInSRI,
			list: func(ctx context.Context) ([]*entity.Comprobante, error) {
				return p.comprobantes.ListByStatus(ctx, entity.StatusSent, p.cfg.BatchSize)
			},
			run: p.ops.ValidateInSRI,
		},
		{
			name: entity.OpCheckIfAnnulled,
			list: func(ctx context.Context) ([]*entity.Comprobante, error) {
				now := p.now()
				return p.comprobantes.ListAnnulmentCandidates(ctx,
					now.Add(-p.cfg.AnnulmentWindow), now.Add(-p.cfg.AnnulmentThrottle), p.cfg.BatchSize)
			},
			run: p.ops.CheckIfAnnulledInSRI,
		},
	}

	for _, ph := range phases {
		if ctx.Err() != nil {
			break
		}
		items, err := ph.list(ctx)
		if err != nil {
			p.log.Error().Err(err).Str("op", ph.name).Msg("no se pudo listar comprobantes")
			continue
		}
		res := p.runBatch(ctx, ph.name, items, ph.run)
		total.Processed += res.Processed
		total.Failed += res.Failed
	}
	return total
}

func (p *Poller) runBatch(
	ctx context.Context,
	op string,
	items []*entity.Comprobante,
	run func(ctx context.Context, id string) (*entity.Comprobante, error),
) TickResult {
	var processed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, item := range items {
		id := item.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if p.availability != nil && !p.availability.Available() {
				return nil
			}
			_, err := run(gctx, id)
			switch {
			case err == nil:
				processed.Add(1)
			case domain.IsPreconditionViolation(err):
				// El estado cambió entre el listado y la operación.
				p.log.Debug().Str("op", op).Str("comprobante_id", id).Err(err).Msg("omitido")
			default:
				failed.Add(1)
				p.log.Warn().Str("op", op).Str("comprobante_id", id).Err(err).Msg("falló, se reintentará en el próximo tick")
			}
			return nil
		})
	}
	_ = g.Wait()
	return TickResult{Processed: int(processed.Load()), Failed: int(failed.Load())}
}
