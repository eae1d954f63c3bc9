package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/postgres"
	"github.com/jhoicas/comprobantes-sri/pkg/config"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// Requieren una base desechable: POSTGRES_TEST_URL=postgres://...; se migra al inicio.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL no definido")
	}
	m, err := postgres.NewMigrator(url, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := postgres.NewPool(context.Background(), config.DBConfig{DatabaseURL: url})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type seeded struct {
	company *entity.Company
	point   *entity.EmissionPoint
}

func seed(t *testing.T, pool *pgxpool.Pool) seeded {
	t.Helper()
	ctx := context.Background()
	// RUC único por test: el módulo 11 no se valida en el repositorio.
	ruc := uuid.New().String()[:10] + "001"
	company := &entity.Company{RUC: ruc, LegalName: "ACME S.A.", Address: "Quito"}
	require.NoError(t, postgres.NewCompanyRepository(pool).Create(ctx, company))

	estabs := postgres.NewEstablishmentRepository(pool)
	e := &entity.Establishment{CompanyID: company.ID, Code: "001"}
	require.NoError(t, estabs.CreateEstablishment(ctx, e))
	p := &entity.EmissionPoint{EstablishmentID: e.ID, CompanyID: company.ID, EstablishmentCode: "001", Code: "002"}
	require.NoError(t, estabs.CreateEmissionPoint(ctx, p))
	return seeded{company: company, point: p}
}

func draft(s seeded) *entity.Comprobante {
	c := entity.NewComprobante()
	c.CompanyID = s.company.ID
	c.EmissionPointID = s.point.ID
	c.DocumentType = sri.DocumentFactura
	c.Date = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	c.Environment = sri.EnvironmentTest
	c.EmissionType = sri.EmissionNormal
	c.Buyer = entity.Buyer{IDType: sri.IdentificacionCedula, ID: "1710034065", Name: "Juan Pérez"}
	c.PaymentMethod = "01"
	c.Lines = []entity.ComprobanteLine{{
		Position: 1, Code: "P1", Description: "Servicio",
		Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100),
		IVARateCode: sri.IVARate15, IVAPercent: decimal.NewFromInt(15),
	}}
	c.ComputeTotals()
	return c
}

func TestIntegration_ComprobanteRoundTrip(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool)
	ctx := context.Background()
	repo := postgres.NewComprobanteRepository(pool)

	c := draft(s)
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusNotSent, got.Status())
	require.Len(t, got.Lines, 1)
	assert.True(t, decimal.NewFromInt(115).Equal(got.Total))

	require.NoError(t, got.Accept())
	require.NoError(t, repo.SaveState(ctx, got))

	ready, err := repo.ListByStatus(ctx, entity.StatusReadyToSend, 100)
	require.NoError(t, err)
	var found bool
	for _, r := range ready {
		found = found || r.ID == c.ID
	}
	assert.True(t, found)

	// Fuera de NotSent el borrador ya no se edita ni se borra.
	assert.ErrorIs(t, repo.UpdateDraft(ctx, got), domain.ErrConflict)
	assert.ErrorIs(t, repo.DeleteDraft(ctx, c.ID), domain.ErrConflict)

	missing, err := repo.GetByID(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIntegration_SaveStatePersisteNumeroYEdicionTrasRechazo(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool)
	ctx := context.Background()
	repo := postgres.NewComprobanteRepository(pool)

	c := draft(s)
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, c.Accept())
	require.NoError(t, c.AssignDraft(entity.SubmissionDraft{
		Number:      "001-002-000000001",
		NumericCode: "48213097",
		AccessKey:   "1503202401179132163400110010020000000014821309712",
		Sequence:    1,
		SignedXML:   "<factura/>",
	}))
	require.NoError(t, repo.SaveState(ctx, c))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "001-002-000000001", got.Number())
	assert.Equal(t, "48213097", got.NumericCode())
	assert.Equal(t, int64(1), got.Sequence())

	issue := entity.Issue{Tipo: entity.IssueTypeError, Identificador: "35", Mensaje: "ARCHIVO NO CUMPLE ESTRUCTURA XML"}
	require.NoError(t, got.MarkRejected(nil, []entity.Issue{issue}))
	require.NoError(t, repo.SaveState(ctx, got))

	// Un rechazado se corrige: el contenido cambia, el estado y los issues se conservan.
	got.Buyer.Name = "Juan Pérez Corregido"
	require.NoError(t, repo.UpdateDraft(ctx, got))
	assert.ErrorIs(t, repo.DeleteDraft(ctx, c.ID), domain.ErrConflict)

	again, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Juan Pérez Corregido", again.Buyer.Name)
	assert.Equal(t, entity.StatusRejected, again.Status())
	assert.Equal(t, []entity.Issue{issue}, again.Issues())
	assert.Equal(t, "001-002-000000001", again.Number())
	assert.Equal(t, "48213097", again.NumericCode())
}

func TestIntegration_CommitSequence(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool)
	ctx := context.Background()
	points := postgres.NewEmissionPointRepository(pool)

	n, err := points.PeekSequence(ctx, s.point.ID, sri.EnvironmentTest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, points.CommitSequence(ctx, s.point.ID, sri.EnvironmentTest, 1))
	n, _ = points.PeekSequence(ctx, s.point.ID, sri.EnvironmentTest)
	assert.Equal(t, int64(2), n)

	// Producción es independiente.
	n, _ = points.PeekSequence(ctx, s.point.ID, sri.EnvironmentProduction)
	assert.Equal(t, int64(1), n)

	// Nunca retrocede.
	assert.ErrorIs(t, points.CommitSequence(ctx, s.point.ID, sri.EnvironmentTest, 1), domain.ErrSequenceConflict)
	assert.ErrorIs(t, points.CommitSequence(ctx, uuid.New().String(), sri.EnvironmentTest, 1), domain.ErrNotFound)
}

func TestIntegration_TxRunnerRollback(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool)
	ctx := context.Background()
	runner := postgres.NewTxRunner(pool)

	err := runner.RunSubmission(ctx, func(_ repository.ComprobanteRepository, points repository.EmissionPointRepository) error {
		require.NoError(t, points.CommitSequence(ctx, s.point.ID, sri.EnvironmentTest, 5))
		return domain.ErrConflict
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	n, err := postgres.NewEmissionPointRepository(pool).PeekSequence(ctx, s.point.ID, sri.EnvironmentTest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "el rollback descarta el avance del secuencial")
}
