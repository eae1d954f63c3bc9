package repository

import (
	"context"
	"time"

	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
)

// ComprobanteRepository define el puerto de persistencia para comprobantes y sus líneas.
type ComprobanteRepository interface {
	// Create inserta el borrador (NotSent) con sus líneas.
	Create(ctx context.Context, c *entity.Comprobante) error

	// UpdateDraft reemplaza contenido y líneas; solo afecta filas en NotSent.
	UpdateDraft(ctx context.Context, c *entity.Comprobante) error

	// DeleteDraft elimina un comprobante en NotSent.
	DeleteDraft(ctx context.Context, id string) error

	GetByID(ctx context.Context, id string) (*entity.Comprobante, error)

	// SaveState persiste el estado de envío (status, clave, XML firmado, autorización,
	// issues, last_checked_at). Lo llaman solo las operaciones del ciclo de vida.
	SaveState(ctx context.Context, c *entity.Comprobante) error

	// ListByStatus devuelve hasta limit comprobantes en el estado dado, los más antiguos primero.
	ListByStatus(ctx context.Context, status entity.Status, limit int) ([]*entity.Comprobante, error)

	// ListAnnulmentCandidates devuelve comprobantes Accepted autorizados después de
	// authorizedAfter y no consultados desde checkedBefore.
	ListAnnulmentCandidates(ctx context.Context, authorizedAfter, checkedBefore time.Time, limit int) ([]*entity.Comprobante, error)
}
