package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	domainsri "github.com/jhoicas/comprobantes-sri/internal/domain/sri"
	"github.com/jhoicas/comprobantes-sri/pkg/logger"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// LifecycleConfig parámetros del ciclo de vida.
type LifecycleConfig struct {
	OwnerID           string           // dueño del certificado en el firmador
	EmissionType      sri.EmissionType // por defecto, si el comprobante no lo define
	AnnulmentWindow   time.Duration    // 15 días
	AnnulmentThrottle time.Duration    // 1 hora
}

// Dependencies agrupa los colaboradores de Lifecycle. Metrics, Locker, Logger y
// Now son opcionales.
type Dependencies struct {
	Comprobantes repository.ComprobanteRepository
	Companies    repository.CompanyRepository
	Points       repository.EmissionPointRepository
	TxRunner     SubmissionTxRunner
	Renderer     XMLRenderer
	Signer       SigningService
	Authority    sri.Authority
	Locker       Locker
	Metrics      Recorder
	Logger       *logger.Logger
	Now          func() time.Time
}

// Lifecycle es la máquina de estados del comprobante frente al SRI:
//
//	NotSent → ReadyToSend → {Sent ⇄ Rejected} → Accepted → Annulled
//
// Sus cuatro operaciones son la única vía para cambiar estado, clave de acceso y
// secuenciales. Todas son seguras de reinvocar: el reintento lo decide el Poller.
type Lifecycle struct {
	comprobantes repository.ComprobanteRepository
	companies    repository.CompanyRepository
	points       repository.EmissionPointRepository
	tx           SubmissionTxRunner
	renderer     XMLRenderer
	signer       SigningService
	authority    sri.Authority
	locker       Locker
	metrics      Recorder
	log          *logger.Logger
	now          func() time.Time

	allocator *SequenceAllocator
	keys      *sri.AccessKeyGenerator
	cfg       LifecycleConfig
}

// NewLifecycle construye el caso de uso.
func NewLifecycle(deps Dependencies, cfg LifecycleConfig) *Lifecycle {
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.EmissionType == "" {
		cfg.EmissionType = sri.EmissionNormal
	}
	if cfg.AnnulmentWindow == 0 {
		cfg.AnnulmentWindow = 15 * 24 * time.Hour
	}
	if cfg.AnnulmentThrottle == 0 {
		cfg.AnnulmentThrottle = time.Hour
	}
	return &Lifecycle{
		comprobantes: deps.Comprobantes,
		companies:    deps.Companies,
		points:       deps.Points,
		tx:           deps.TxRunner,
		renderer:     deps.Renderer,
		signer:       deps.Signer,
		authority:    deps.Authority,
		locker:       deps.Locker,
		metrics:      deps.Metrics,
		log:          deps.Logger.Component("billing.lifecycle"),
		now:          deps.Now,
		allocator:    NewSequenceAllocator(deps.Points),
		keys:         sri.NewAccessKeyGenerator(),
		cfg:          cfg,
	}
}

// Config devuelve la configuración efectiva (con valores por defecto aplicados).
func (l *Lifecycle) Config() LifecycleConfig { return l.cfg }

// ═══════════════════════════════════════════════════════════════════════════════
// accept
// ═══════════════════════════════════════════════════════════════════════════════

// Accept valida el contenido y pasa el comprobante a ReadyToSend. Sin I/O externo.
func (l *Lifecycle) Accept(ctx context.Context, id string) (c *entity.Comprobante, err error) {
	start := l.now()
	defer func() { l.observe(entity.OpAccept, OutcomeReady, start, err) }()

	c, err = l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st := c.Status(); st == entity.StatusNotSent || st == entity.StatusRejected {
		company, err := l.loadCompany(ctx, c.CompanyID)
		if err != nil {
			return nil, err
		}
		if err := domainsri.ValidateComprobante(company, c); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
	}
	if err := c.Accept(); err != nil {
		return nil, err
	}
	if err := l.comprobantes.SaveState(ctx, c); err != nil {
		return nil, fmt.Errorf("guardar estado: %w", err)
	}
	l.log.Info().Str("comprobante_id", c.ID).Str("status", string(c.Status())).Msg("comprobante aceptado para envío")
	return c, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// send_to_SRI
// ═══════════════════════════════════════════════════════════════════════════════

// SendToSRI genera clave y XML firmado con el próximo secuencial y los envía a
// recepción. RECIBIDA: commit del secuencial y Sent en una sola transacción.
// DEVUELTA: issues y Rejected, secuencial sin consumir. Un fallo de transporte se
// devuelve como domain.TransportFailure sin cambiar estado ni secuencial.
func (l *Lifecycle) SendToSRI(ctx context.Context, id string) (c *entity.Comprobante, err error) {
	start := l.now()
	outcome := OutcomeSent
	defer func() { l.observe(entity.OpSendToSRI, outcome, start, err) }()

	c, err = l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.CheckSendable(); err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, SequenceLockKey(c.EmissionPointID, c.Environment))
	if err != nil {
		return nil, domain.NewTransportFailure(entity.OpSendToSRI, fmt.Errorf("lock secuencial: %w", err))
	}
	defer unlock()

	// Otro proceso pudo enviarlo mientras esperábamos el lock.
	if c, err = l.load(ctx, id); err != nil {
		return nil, err
	}
	if err := c.CheckSendable(); err != nil {
		return nil, err
	}

	point, err := l.loadPoint(ctx, c.EmissionPointID)
	if err != nil {
		return nil, err
	}
	company, err := l.loadCompany(ctx, c.CompanyID)
	if err != nil {
		return nil, err
	}
	logCtx := l.log.With().Str("comprobante_id", c.ID).Str("punto_emision", point.ID).Logger()

	// ── 1. Intento previo: si ya está AUTORIZADO no se reenvía ────────────────
	var attemptIssues []entity.Issue
	rotateCode := false
	if c.HasAccessKey() {
		resp, err := l.authority.Authorize(ctx, c.Environment, c.AccessKey())
		if err != nil {
			return nil, domain.NewTransportFailure(entity.OpSendToSRI, err)
		}
		if authorized := resp.Authorized(); len(authorized) > 0 {
			if authorized[0].Matches(c.SignedXML()) {
				outcome = OutcomeShortCircuit
				if err := l.markSentAfterAuthorized(ctx, c); err != nil {
					return nil, err
				}
				logCtx.Info().Str("clave_acceso", c.AccessKey()).Int64("secuencial", c.Sequence()).
					Msg("clave ya autorizada por el SRI, se marca Sent sin reenviar")
				return c, nil
			}
			// La clave quedó autorizada para otro documento: se genera una nueva.
			rotateCode = true
			attemptIssues = append(attemptIssues, entity.Issue{
				Tipo:                 entity.IssueTypeWarning,
				Identificador:        entity.IssueIDForeignKey,
				Mensaje:              "La clave del intento anterior está autorizada para otro documento; se genera una nueva",
				InformacionAdicional: c.AccessKey(),
			})
			logCtx.Warn().Str("clave_acceso", c.AccessKey()).Str("anomaly", entity.IssueIDForeignKey).
				Msg("clave previa autorizada con otro contenido, no se marca Sent")
		}
	}

	// ── 2. Secuencial, clave, XML y firma ─────────────────────────────────────
	seq, err := l.allocator.PeekNext(ctx, point.ID, c.Environment)
	if err != nil {
		return nil, err
	}
	number := fmt.Sprintf("%s-%s-%s", point.EstablishmentCode, point.Code, sri.FormatSequence(seq))

	numericCode := c.NumericCode()
	if numericCode == "" || rotateCode {
		seed := []string{c.ID}
		if c.HasAccessKey() {
			seed = append(seed, c.AccessKey())
		}
		numericCode = sri.NumericCodeFor(seed...)
	}

	key, err := l.keys.Generate(&sri.AccessKeyParams{
		Date:          c.Date,
		DocumentType:  c.DocumentType,
		RUC:           company.RUC,
		Environment:   c.Environment,
		Establishment: point.EstablishmentCode,
		EmissionPoint: point.Code,
		Sequence:      seq,
		NumericCode:   numericCode,
		EmissionType:  l.emissionType(c),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	unsigned, err := l.renderer.Render(company, point, c, key, seq)
	if err != nil {
		return nil, fmt.Errorf("xml: %w", err)
	}

	signed, err := l.signer.Sign(ctx, company.RUC, l.cfg.OwnerID, unsigned)
	if err != nil {
		if domain.IsTransportFailure(err) {
			return nil, err
		}
		if !errors.Is(err, domain.ErrSigningFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
		}
		return nil, err
	}

	if err := c.AssignDraft(entity.SubmissionDraft{
		Number:      number,
		NumericCode: numericCode,
		AccessKey:   key,
		Sequence:    seq,
		SignedXML:   string(signed),
		Issues:      attemptIssues,
	}); err != nil {
		return nil, err
	}
	if err := l.comprobantes.SaveState(ctx, c); err != nil {
		return nil, fmt.Errorf("guardar borrador: %w", err)
	}

	// ── 3. Recepción ──────────────────────────────────────────────────────────
	resp, err := l.authority.Submit(ctx, c.Environment, signed)
	if err != nil {
		return nil, domain.NewTransportFailure(entity.OpSendToSRI, err)
	}

	if !resp.Received() {
		outcome = OutcomeRejected
		if err := c.MarkRejected(nil, issuesFromMessages(resp.Messages())); err != nil {
			return nil, err
		}
		if err := l.comprobantes.SaveState(ctx, c); err != nil {
			return nil, fmt.Errorf("guardar rechazo: %w", err)
		}
		logCtx.Warn().Str("clave_acceso", key).Int64("secuencial", seq).Str("estado_sri", resp.Status).
			Int("mensajes", len(c.Issues())).Msg("comprobante devuelto por el SRI, secuencial sin consumir")
		return c, nil
	}

	err = l.tx.RunSubmission(ctx, func(comprobantes repository.ComprobanteRepository, points repository.EmissionPointRepository) error {
		if err := l.allocator.WithRepository(points).Commit(ctx, point.ID, c.Environment, seq); err != nil {
			return err
		}
		if err := c.MarkSent(); err != nil {
			return err
		}
		return comprobantes.SaveState(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("commit envío: %w", err)
	}
	logCtx.Info().Str("clave_acceso", key).Int64("secuencial", seq).Str("status", string(c.Status())).
		Msg("comprobante recibido por el SRI")
	return c, nil
}

// markSentAfterAuthorized pasa a Sent una clave que el SRI ya autorizó. El contador
// se avanza solo si todavía no cubre el secuencial de la clave.
func (l *Lifecycle) markSentAfterAuthorized(ctx context.Context, c *entity.Comprobante) error {
	seq := c.Sequence()
	if seq == 0 {
		parsed, err := sri.ParseAccessKey(c.AccessKey())
		if err != nil {
			return fmt.Errorf("clave almacenada: %w", err)
		}
		seq = parsed.Sequence
	}
	return l.tx.RunSubmission(ctx, func(comprobantes repository.ComprobanteRepository, points repository.EmissionPointRepository) error {
		alloc := l.allocator.WithRepository(points)
		next, err := alloc.PeekNext(ctx, c.EmissionPointID, c.Environment)
		if err != nil {
			return err
		}
		if next <= seq {
			if err := alloc.Commit(ctx, c.EmissionPointID, c.Environment, seq); err != nil {
				return err
			}
		}
		if err := c.MarkSent(); err != nil {
			return err
		}
		return comprobantes.SaveState(ctx, c)
	})
}

// ═══════════════════════════════════════════════════════════════════════════════
// validate_in_SRI
// ═══════════════════════════════════════════════════════════════════════════════

// ValidateInSRI consulta la autorización de un comprobante Sent. Siempre registra
// lastCheckedAt cuando el SRI responde.
func (l *Lifecycle) ValidateInSRI(ctx context.Context, id string) (c *entity.Comprobante, err error) {
	start := l.now()
	outcome := OutcomeUnchanged
	defer func() { l.observe(entity.OpValidateInSRI, outcome, start, err) }()

	c, err = l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.CheckValidatable(); err != nil {
		return nil, err
	}

	resp, err := l.authority.Authorize(ctx, c.Environment, c.AccessKey())
	if err != nil {
		return nil, domain.NewTransportFailure(entity.OpValidateInSRI, err)
	}
	now := l.now()
	c.StampChecked(now)
	logCtx := l.log.With().Str("comprobante_id", c.ID).Str("clave_acceso", c.AccessKey()).Logger()

	authorized := resp.Authorized()
	switch {
	case len(authorized) > 0:
		first := authorized[0]
		issues := issuesFromMessages(first.Messages)
		if len(authorized) > 1 {
			detail := fmt.Sprintf("autorizaciones: %d; se conserva %s del %s",
				len(authorized), first.Number, first.Date.Format(time.RFC3339))
			issues = append(issues, entity.Issue{
				Tipo:                 entity.IssueTypeAnomaly,
				Identificador:        entity.IssueIDDuplicated,
				Mensaje:              "El SRI autorizó la misma clave más de una vez; anule manualmente la autorización duplicada",
				InformacionAdicional: detail,
			})
			l.metrics.IncAnomaly(entity.IssueIDDuplicated)
			logCtx.Warn().Str("anomaly", entity.IssueIDDuplicated).Int("autorizaciones", len(authorized)).
				Msg("autorización duplicada, requiere intervención de un operador")
		}
		number := first.Number
		if number == "" {
			number = c.AccessKey()
		}
		date := first.Date
		if date.IsZero() {
			date = now
		}
		if err := c.MarkAuthorized(number, date, issues); err != nil {
			return nil, err
		}
		outcome = OutcomeAccepted
	default:
		if rejected, ok := resp.FirstRejected(); ok {
			var date *time.Time
			if !rejected.Date.IsZero() {
				d := rejected.Date
				date = &d
			}
			if err := c.MarkRejected(date, issuesFromMessages(rejected.Messages)); err != nil {
				return nil, err
			}
			outcome = OutcomeRejected
		}
	}

	if err := l.comprobantes.SaveState(ctx, c); err != nil {
		return nil, fmt.Errorf("guardar estado: %w", err)
	}
	logCtx.Info().Str("status", string(c.Status())).Int("autorizaciones", len(resp.Authorizations)).
		Msg("consulta de autorización")
	return c, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// check_if_annulled_in_SRI
// ═══════════════════════════════════════════════════════════════════════════════

// CheckIfAnnulledInSRI consulta si un comprobante autorizado fue anulado en el
// portal del SRI: cero comprobantes para la clave significa anulado.
func (l *Lifecycle) CheckIfAnnulledInSRI(ctx context.Context, id string) (c *entity.Comprobante, err error) {
	start := l.now()
	outcome := OutcomeUnchanged
	defer func() { l.observe(entity.OpCheckIfAnnulled, outcome, start, err) }()

	c, err = l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.CheckAnnulmentDue(l.now(), l.cfg.AnnulmentWindow, l.cfg.AnnulmentThrottle); err != nil {
		return nil, err
	}

	resp, err := l.authority.Authorize(ctx, c.Environment, c.AccessKey())
	if err != nil {
		return nil, domain.NewTransportFailure(entity.OpCheckIfAnnulled, err)
	}
	c.StampChecked(l.now())

	if resp.DocumentCount == 0 {
		if err := c.MarkAnnulled(); err != nil {
			return nil, err
		}
		outcome = OutcomeAnnulled
		l.log.Info().Str("comprobante_id", c.ID).Str("clave_acceso", c.AccessKey()).Msg("comprobante anulado en el SRI")
	}
	if err := l.comprobantes.SaveState(ctx, c); err != nil {
		return nil, fmt.Errorf("guardar estado: %w", err)
	}
	return c, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (l *Lifecycle) load(ctx context.Context, id string) (*entity.Comprobante, error) {
	c, err := l.comprobantes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("comprobante %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// loadPoint y loadCompany: los repositorios devuelven nil, nil si no existe.
func (l *Lifecycle) loadPoint(ctx context.Context, id string) (*entity.EmissionPoint, error) {
	p, err := l.points.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("punto de emisión %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("punto de emisión %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (l *Lifecycle) loadCompany(ctx context.Context, id string) (*entity.Company, error) {
	co, err := l.companies.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("empresa %s: %w", id, err)
	}
	if co == nil {
		return nil, fmt.Errorf("empresa %s: %w", id, domain.ErrNotFound)
	}
	return co, nil
}

func (l *Lifecycle) emissionType(c *entity.Comprobante) sri.EmissionType {
	if c.EmissionType.Valid() {
		return c.EmissionType
	}
	return l.cfg.EmissionType
}

func (l *Lifecycle) observe(op, outcome string, start time.Time, err error) {
	switch {
	case err == nil:
	case domain.IsPreconditionViolation(err):
		outcome = OutcomePrecondition
		l.log.Debug().Str("op", op).Err(err).Msg("precondición no cumplida")
	case domain.IsTransportFailure(err):
		outcome = OutcomeTransport
		l.log.Warn().Str("op", op).Err(err).Msg("fallo de transporte, se reintentará")
	default:
		outcome = OutcomeError
		l.log.Error().Str("op", op).Err(err).Msg("operación fallida")
	}
	l.metrics.ObserveOperation(op, outcome, l.now().Sub(start))
}

func issuesFromMessages(msgs []sri.Message) []entity.Issue {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]entity.Issue, 0, len(msgs))
	for _, m := range msgs {
		tipo := m.Type
		if tipo == "" {
			tipo = entity.IssueTypeError
		}
		out = append(out, entity.Issue{
			Tipo:                 tipo,
			Identificador:        m.Identifier,
			Mensaje:              m.Message,
			InformacionAdicional: m.Extra,
		})
	}
	return out
}
