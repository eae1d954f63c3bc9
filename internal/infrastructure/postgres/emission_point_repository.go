package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

var (
	_ repository.EmissionPointRepository = (*EmissionPointRepo)(nil)
	_ repository.EstablishmentRepository = (*EstablishmentRepo)(nil)
)

// EmissionPointRepo accede a los puntos de emisión y sus contadores (pool o tx).
type EmissionPointRepo struct {
	q Querier
}

// NewEmissionPointRepository construye el adaptador.
func NewEmissionPointRepository(q Querier) *EmissionPointRepo {
	return &EmissionPointRepo{q: q}
}

const pointColumns = `id, establishment_id, company_id, establishment_code, code, seq_test, seq_production, updated_at`

// GetByID devuelve el punto o nil, nil si no existe.
func (r *EmissionPointRepo) GetByID(ctx context.Context, id string) (*entity.EmissionPoint, error) {
	p, err := scanPoint(r.q.QueryRow(ctx, `SELECT `+pointColumns+` FROM emission_points WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get emission point: %w", err)
	}
	return p, nil
}

// PeekSequence lee el contador del ambiente sin modificarlo.
func (r *EmissionPointRepo) PeekSequence(ctx context.Context, pointID string, env sri.Environment) (int64, error) {
	col, err := sequenceColumn(env)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.q.QueryRow(ctx, `SELECT `+col+` FROM emission_points WHERE id = $1`, pointID).Scan(&n)
	if err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("%w: punto de emisión %s", domain.ErrNotFound, pointID)
		}
		return 0, fmt.Errorf("peek sequence: %w", err)
	}
	return n, nil
}

// CommitSequence deja el contador en value+1 si no estaba ya adelantado
// (UPDATE condicionado); cero filas afectadas es domain.ErrSequenceConflict.
func (r *EmissionPointRepo) CommitSequence(ctx context.Context, pointID string, env sri.Environment, value int64) error {
	col, err := sequenceColumn(env)
	if err != nil {
		return err
	}
	cmd, err := r.q.Exec(ctx,
		`UPDATE emission_points SET `+col+` = $2 + 1, updated_at = now() WHERE id = $1 AND `+col+` <= $2`,
		pointID, value)
	if err != nil {
		return fmt.Errorf("commit sequence: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.PeekSequence(ctx, pointID, env); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s/%s valor %d", domain.ErrSequenceConflict, pointID, env, value)
	}
	return nil
}

// sequenceColumn traduce el ambiente a su columna; nunca interpola texto del usuario.
func sequenceColumn(env sri.Environment) (string, error) {
	switch env {
	case sri.EnvironmentTest:
		return "seq_test", nil
	case sri.EnvironmentProduction:
		return "seq_production", nil
	default:
		return "", fmt.Errorf("%w: ambiente %q", domain.ErrInvalidInput, env)
	}
}

func scanPoint(row pgxScanner) (*entity.EmissionPoint, error) {
	var p entity.EmissionPoint
	err := row.Scan(&p.ID, &p.EstablishmentID, &p.CompanyID, &p.EstablishmentCode, &p.Code,
		&p.SeqTest, &p.SeqProduction, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EstablishmentRepo da de alta establecimientos y puntos de emisión.
type EstablishmentRepo struct {
	q Querier
}

// NewEstablishmentRepository construye el adaptador.
func NewEstablishmentRepository(q Querier) *EstablishmentRepo {
	return &EstablishmentRepo{q: q}
}

// CreateEstablishment inserta un establecimiento; código repetido en la empresa es ErrDuplicate.
func (r *EstablishmentRepo) CreateEstablishment(ctx context.Context, e *entity.Establishment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.q.Exec(ctx,
		`INSERT INTO establishments (id, company_id, code, address) VALUES ($1, $2, $3, $4)`,
		e.ID, e.CompanyID, e.Code, e.Address)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: establecimiento %s", domain.ErrDuplicate, e.Code)
		}
		return fmt.Errorf("insert establishment: %w", err)
	}
	return nil
}

// CreateEmissionPoint inserta un punto con ambos contadores en 1 salvo que vengan fijados.
func (r *EstablishmentRepo) CreateEmissionPoint(ctx context.Context, p *entity.EmissionPoint) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SeqTest < 1 {
		p.SeqTest = 1
	}
	if p.SeqProduction < 1 {
		p.SeqProduction = 1
	}
	p.UpdatedAt = time.Now().UTC()
	_, err := r.q.Exec(ctx, `INSERT INTO emission_points (`+pointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.EstablishmentID, p.CompanyID, p.EstablishmentCode, p.Code, p.SeqTest, p.SeqProduction, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: punto de emisión %s-%s", domain.ErrDuplicate, p.EstablishmentCode, p.Code)
		}
		return fmt.Errorf("insert emission point: %w", err)
	}
	return nil
}

// ListEmissionPoints devuelve los puntos de la empresa ordenados por código.
func (r *EstablishmentRepo) ListEmissionPoints(ctx context.Context, companyID string) ([]*entity.EmissionPoint, error) {
	rows, err := r.q.Query(ctx, `SELECT `+pointColumns+` FROM emission_points
		WHERE company_id = $1 ORDER BY establishment_code, code`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list emission points: %w", err)
	}
	defer rows.Close()

	var list []*entity.EmissionPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emission point: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
