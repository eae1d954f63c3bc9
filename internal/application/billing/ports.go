package billing

import (
	"context"
	"time"

	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
)

// SubmissionTxRunner ejecuta una función dentro de una transacción que incluye
// comprobantes y puntos de emisión. El commit del secuencial y el paso a Sent
// se hacen siempre dentro de RunSubmission.
type SubmissionTxRunner interface {
	RunSubmission(ctx context.Context, fn func(
		comprobantes repository.ComprobanteRepository,
		points repository.EmissionPointRepository,
	) error) error
}

// XMLRenderer genera el XML sin firmar del comprobante con la clave ya calculada.
type XMLRenderer interface {
	Render(company *entity.Company, point *entity.EmissionPoint, c *entity.Comprobante, accessKey string, sequence int64) ([]byte, error)
}

// SigningService firma XML con el certificado registrado para (taxID, ownerID).
// Un rechazo del firmador se reporta con domain.ErrSigningFailed; red o timeout
// con domain.TransportFailure.
type SigningService interface {
	Sign(ctx context.Context, taxID, ownerID string, xml []byte) ([]byte, error)
}

// Locker serializa secciones críticas por clave (punto de emisión + ambiente).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Recorder recibe métricas de las operaciones del ciclo de vida.
type Recorder interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	IncAnomaly(kind string)
}

// Resultados registrados en Recorder.ObserveOperation.
const (
	OutcomeAccepted     = "accepted"
	OutcomeReady        = "ready"
	OutcomeSent         = "sent"
	OutcomeShortCircuit = "short_circuit"
	OutcomeRejected     = "rejected"
	OutcomeUnchanged    = "unchanged"
	OutcomeAnnulled     = "annulled"
	OutcomeTransport    = "transport_error"
	OutcomePrecondition = "precondition"
	OutcomeError        = "error"
)

type noopRecorder struct{}

func (noopRecorder) ObserveOperation(string, string, time.Duration) {}
func (noopRecorder) IncAnomaly(string)                              {}
