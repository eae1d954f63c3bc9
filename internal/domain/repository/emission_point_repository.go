package repository

import (
	"context"

	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// EmissionPointRepository es el único acceso a los contadores de secuencial.
// No existe un Update genérico: los contadores solo avanzan con CommitSequence.
type EmissionPointRepository interface {
	GetByID(ctx context.Context, id string) (*entity.EmissionPoint, error)

	// PeekSequence devuelve el próximo secuencial sin modificarlo.
	PeekSequence(ctx context.Context, pointID string, env sri.Environment) (int64, error)

	// CommitSequence deja el contador en value+1. Si el contador ya es mayor que value
	// devuelve domain.ErrSequenceConflict y no modifica nada.
	CommitSequence(ctx context.Context, pointID string, env sri.Environment, value int64) error
}

// EstablishmentRepository persiste establecimientos y puntos de emisión (alta inicial).
type EstablishmentRepository interface {
	CreateEstablishment(ctx context.Context, e *entity.Establishment) error
	CreateEmissionPoint(ctx context.Context, p *entity.EmissionPoint) error
	ListEmissionPoints(ctx context.Context, companyID string) ([]*entity.EmissionPoint, error)
}
