package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/comprobantes-sri/internal/application/billing"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
)

var _ billing.SubmissionTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunSubmission abre una transacción con los repos de comprobantes y puntos de
// emisión; hace Commit si fn no falla y Rollback en otro caso. El commit del
// secuencial y el paso a Sent quedan así en la misma unidad.
func (r *TxRunner) RunSubmission(ctx context.Context, fn func(
	comprobantes repository.ComprobanteRepository,
	points repository.EmissionPointRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(NewComprobanteRepository(tx), NewEmissionPointRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
