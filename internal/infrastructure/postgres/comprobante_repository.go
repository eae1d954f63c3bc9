package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

var _ repository.ComprobanteRepository = (*ComprobanteRepo)(nil)

// ComprobanteRepo persiste comprobantes y sus líneas (pool o tx).
type ComprobanteRepo struct {
	q Querier
}

// NewComprobanteRepository construye el adaptador.
func NewComprobanteRepository(q Querier) *ComprobanteRepo {
	return &ComprobanteRepo{q: q}
}

const comprobanteColumns = `id, company_id, emission_point_id, document_type, date, environment,
	emission_type, buyer_id_type, buyer_id, buyer_name, buyer_address, buyer_email,
	subtotal, iva_total, total, payment_method,
	status, number, numeric_code, access_key, sequence, signed_xml, authorization_number, authorization_date,
	issues, last_checked_at, created_at, updated_at`

// Create inserta el borrador con sus líneas en una transacción.
func (r *ComprobanteRepo) Create(ctx context.Context, c *entity.Comprobante) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	st := c.State()
	issues, err := json.Marshal(nonNilIssues(st.Issues))
	if err != nil {
		return fmt.Errorf("issues: %w", err)
	}

	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO comprobantes (`+comprobanteColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
			c.ID, c.CompanyID, c.EmissionPointID, string(c.DocumentType), c.Date, string(c.Environment),
			string(c.EmissionType), c.Buyer.IDType, c.Buyer.ID, c.Buyer.Name, c.Buyer.Address, c.Buyer.Email,
			c.Subtotal, c.IVATotal, c.Total, c.PaymentMethod,
			string(st.Status), st.Number, st.NumericCode, st.AccessKey, st.Sequence, st.SignedXML,
			st.AuthorizationNumber, st.AuthorizationDate,
			issues, st.LastCheckedAt, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert comprobante: %w", err)
		}
		return insertLines(ctx, tx, c)
	})
}

// UpdateDraft reemplaza contenido y líneas de un comprobante editable (NotSent o
// Rejected). No toca el estado de envío.
func (r *ComprobanteRepo) UpdateDraft(ctx context.Context, c *entity.Comprobante) error {
	c.UpdatedAt = time.Now().UTC()
	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
			UPDATE comprobantes SET emission_point_id = $2, document_type = $3, date = $4,
				environment = $5, emission_type = $6, buyer_id_type = $7, buyer_id = $8, buyer_name = $9,
				buyer_address = $10, buyer_email = $11, subtotal = $12, iva_total = $13, total = $14,
				payment_method = $15, updated_at = $16
			WHERE id = $1 AND status IN ($17, $18)`,
			c.ID, c.EmissionPointID, string(c.DocumentType), c.Date,
			string(c.Environment), string(c.EmissionType), c.Buyer.IDType, c.Buyer.ID, c.Buyer.Name,
			c.Buyer.Address, c.Buyer.Email, c.Subtotal, c.IVATotal, c.Total,
			c.PaymentMethod, c.UpdatedAt, string(entity.StatusNotSent), string(entity.StatusRejected),
		)
		if err != nil {
			return fmt.Errorf("update draft: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("%w: comprobante %s no existe o no es editable", domain.ErrConflict, c.ID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM comprobante_lines WHERE comprobante_id = $1`, c.ID); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		return insertLines(ctx, tx, c)
	})
}

// DeleteDraft elimina un borrador; las líneas caen por ON DELETE CASCADE.
func (r *ComprobanteRepo) DeleteDraft(ctx context.Context, id string) error {
	cmd, err := r.q.Exec(ctx, `DELETE FROM comprobantes WHERE id = $1 AND status = $2`, id, string(entity.StatusNotSent))
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: comprobante %s no existe o no es borrador", domain.ErrConflict, id)
	}
	return nil
}

// GetByID devuelve el comprobante con sus líneas, o nil, nil si no existe.
func (r *ComprobanteRepo) GetByID(ctx context.Context, id string) (*entity.Comprobante, error) {
	c, err := scanComprobante(r.q.QueryRow(ctx, `SELECT `+comprobanteColumns+` FROM comprobantes WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get comprobante: %w", err)
	}
	if err := r.loadLines(ctx, []*entity.Comprobante{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveState persiste solo el estado de envío (incluye número y código numérico
// asignados al preparar cada intento).
func (r *ComprobanteRepo) SaveState(ctx context.Context, c *entity.Comprobante) error {
	st := c.State()
	issues, err := json.Marshal(nonNilIssues(st.Issues))
	if err != nil {
		return fmt.Errorf("issues: %w", err)
	}
	c.UpdatedAt = time.Now().UTC()
	cmd, err := r.q.Exec(ctx, `
		UPDATE comprobantes SET status = $2, number = $3, numeric_code = $4, access_key = $5,
			sequence = $6, signed_xml = $7, authorization_number = $8, authorization_date = $9,
			issues = $10, last_checked_at = $11, updated_at = $12
		WHERE id = $1`,
		c.ID, string(st.Status), st.Number, st.NumericCode, st.AccessKey,
		st.Sequence, st.SignedXML, st.AuthorizationNumber, st.AuthorizationDate,
		issues, st.LastCheckedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: clave de acceso %s", domain.ErrDuplicate, st.AccessKey)
		}
		return fmt.Errorf("save state: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, c.ID)
	}
	return nil
}

// ListByStatus devuelve hasta limit comprobantes en status, los más antiguos primero.
func (r *ComprobanteRepo) ListByStatus(ctx context.Context, status entity.Status, limit int) ([]*entity.Comprobante, error) {
	return r.list(ctx, `SELECT `+comprobanteColumns+` FROM comprobantes
		WHERE status = $1 ORDER BY created_at, id LIMIT $2`, string(status), limit)
}

// ListAnnulmentCandidates devuelve Accepted autorizados después de authorizedAfter y
// no consultados desde checkedBefore, empezando por los consultados hace más tiempo.
func (r *ComprobanteRepo) ListAnnulmentCandidates(ctx context.Context, authorizedAfter, checkedBefore time.Time, limit int) ([]*entity.Comprobante, error) {
	return r.list(ctx, `SELECT `+comprobanteColumns+` FROM comprobantes
		WHERE status = $1 AND authorization_date > $2
		  AND (last_checked_at IS NULL OR last_checked_at <= $3)
		ORDER BY last_checked_at NULLS FIRST, id LIMIT $4`,
		string(entity.StatusAccepted), authorizedAfter, checkedBefore, limit)
}

func (r *ComprobanteRepo) list(ctx context.Context, query string, args ...any) ([]*entity.Comprobante, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comprobantes: %w", err)
	}
	defer rows.Close()

	var list []*entity.Comprobante
	for rows.Next() {
		c, err := scanComprobante(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comprobante: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// loadLines carga las líneas de todos los comprobantes con una sola consulta.
func (r *ComprobanteRepo) loadLines(ctx context.Context, list []*entity.Comprobante) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	byID := make(map[string]*entity.Comprobante, len(list))
	for i, c := range list {
		ids[i] = c.ID
		byID[c.ID] = c
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, comprobante_id, position, code, description, quantity, unit_price, discount,
			iva_rate_code, iva_percent, subtotal
		FROM comprobante_lines WHERE comprobante_id = ANY($1::uuid[]) ORDER BY comprobante_id, position`, ids)
	if err != nil {
		return fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l entity.ComprobanteLine
		if err := rows.Scan(&l.ID, &l.ComprobanteID, &l.Position, &l.Code, &l.Description, &l.Quantity,
			&l.UnitPrice, &l.Discount, &l.IVARateCode, &l.IVAPercent, &l.Subtotal); err != nil {
			return fmt.Errorf("scan line: %w", err)
		}
		if c := byID[l.ComprobanteID]; c != nil {
			c.Lines = append(c.Lines, l)
		}
	}
	return rows.Err()
}

func insertLines(ctx context.Context, tx pgx.Tx, c *entity.Comprobante) error {
	batch := &pgx.Batch{}
	for i := range c.Lines {
		l := &c.Lines[i]
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.ComprobanteID = c.ID
		if l.Position == 0 {
			l.Position = i + 1
		}
		batch.Queue(`INSERT INTO comprobante_lines (id, comprobante_id, position, code, description,
				quantity, unit_price, discount, iva_rate_code, iva_percent, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			l.ID, l.ComprobanteID, l.Position, l.Code, l.Description,
			l.Quantity, l.UnitPrice, l.Discount, l.IVARateCode, l.IVAPercent, l.Subtotal)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert lines: %w", err)
	}
	return nil
}

func scanComprobante(row pgxScanner) (*entity.Comprobante, error) {
	c := &entity.Comprobante{}
	var (
		docType, env, emission, status string
		issuesRaw                      []byte
		st                             entity.SubmissionState
	)
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.EmissionPointID, &docType, &c.Date, &env,
		&emission, &c.Buyer.IDType, &c.Buyer.ID, &c.Buyer.Name, &c.Buyer.Address, &c.Buyer.Email,
		&c.Subtotal, &c.IVATotal, &c.Total, &c.PaymentMethod,
		&status, &st.Number, &st.NumericCode, &st.AccessKey, &st.Sequence, &st.SignedXML, &st.AuthorizationNumber, &st.AuthorizationDate,
		&issuesRaw, &st.LastCheckedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DocumentType = sri.DocumentType(docType)
	c.Environment = sri.Environment(env)
	c.EmissionType = sri.EmissionType(emission)
	st.Status = entity.Status(status)
	if len(issuesRaw) > 0 {
		if err := json.Unmarshal(issuesRaw, &st.Issues); err != nil {
			return nil, fmt.Errorf("issues de %s: %w", c.ID, err)
		}
	}
	return entity.RestoreComprobante(c, st), nil
}

func nonNilIssues(in []entity.Issue) []entity.Issue {
	if in == nil {
		return []entity.Issue{}
	}
	return in
}
