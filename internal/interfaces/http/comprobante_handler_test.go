package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/comprobantes-sri/internal/application/dto"
	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	apphttp "github.com/jhoicas/comprobantes-sri/internal/interfaces/http"
)

type fakeDrafts struct {
	items   map[string]*entity.Comprobante
	created []dto.CreateComprobanteRequest
}

func (f *fakeDrafts) Create(_ context.Context, companyID string, in dto.CreateComprobanteRequest) (*dto.ComprobanteResponse, error) {
	f.created = append(f.created, in)
	return &dto.ComprobanteResponse{ID: "nuevo", CompanyID: companyID, Status: string(entity.StatusNotSent)}, nil
}

func (f *fakeDrafts) Update(_ context.Context, companyID, id string, _ dto.CreateComprobanteRequest) (*dto.ComprobanteResponse, error) {
	if _, err := f.Get(context.Background(), companyID, id); err != nil {
		return nil, err
	}
	return &dto.ComprobanteResponse{ID: id}, nil
}

func (f *fakeDrafts) Delete(ctx context.Context, companyID, id string) error {
	_, err := f.Get(ctx, companyID, id)
	return err
}

func (f *fakeDrafts) Get(_ context.Context, companyID, id string) (*entity.Comprobante, error) {
	c, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if c.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	return c, nil
}

type fakeLifecycle struct {
	err   error
	calls []string
}

func (f *fakeLifecycle) do(op, id string) (*entity.Comprobante, error) {
	f.calls = append(f.calls, op+":"+id)
	if f.err != nil {
		return nil, f.err
	}
	c := entity.NewComprobante()
	c.ID = id
	return c, nil
}

func (f *fakeLifecycle) Accept(_ context.Context, id string) (*entity.Comprobante, error) {
	return f.do("accept", id)
}
func (f *fakeLifecycle) SendToSRI(_ context.Context, id string) (*entity.Comprobante, error) {
	return f.do("send", id)
}
func (f *fakeLifecycle) ValidateInSRI(_ context.Context, id string) (*entity.Comprobante, error) {
	return f.do("validate", id)
}
func (f *fakeLifecycle) CheckIfAnnulledInSRI(_ context.Context, id string) (*entity.Comprobante, error) {
	return f.do("check", id)
}

func newAPI(t *testing.T, lc *fakeLifecycle) (*fiber.App, *fakeDrafts) {
	t.Helper()
	own := entity.NewComprobante()
	own.ID, own.CompanyID = "c1", testCompanyID
	other := entity.NewComprobante()
	other.ID, other.CompanyID = "c2", "otra-empresa"
	drafts := &fakeDrafts{items: map[string]*entity.Comprobante{"c1": own, "c2": other}}

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		Drafts:    drafts,
		Lifecycle: lc,
		Tokens:    testTokens(t),
		Tenants:   testTenants(),
	})
	return app, drafts
}

func call(t *testing.T, app *fiber.App, method, path, role string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var e dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e.Code
}

func TestComprobanteHandler_MapeoDeErrores(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"precondición", &domain.PreconditionViolation{Op: "send_to_sri", Status: "SENT"}, http.StatusConflict, "PRECONDITION"},
		{"transporte", domain.NewTransportFailure("recepcion", errors.New("timeout")), http.StatusServiceUnavailable, "SRI_UNAVAILABLE"},
		{"validación", domain.ErrInvalidInput, http.StatusBadRequest, "VALIDATION"},
		{"no encontrado", domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"firma", domain.ErrSigningFailed, http.StatusUnprocessableEntity, "SIGNING_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, _ := newAPI(t, &fakeLifecycle{err: tc.err})
			resp := call(t, app, http.MethodPost, "/api/comprobantes/c1/send", apphttp.RoleEmisor, nil)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, errorCode(t, resp))
		})
	}
}

func TestComprobanteHandler_OperacionesDelCiclo(t *testing.T) {
	lc := &fakeLifecycle{}
	app, _ := newAPI(t, lc)

	for _, op := range []string{"accept", "send", "validate", "check-annulled"} {
		resp := call(t, app, http.MethodPost, "/api/comprobantes/c1/"+op, apphttp.RoleAdmin, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, op)
		var st dto.ComprobanteStatusResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
		resp.Body.Close()
		assert.Equal(t, "c1", st.ID)
	}
	assert.Equal(t, []string{"accept:c1", "send:c1", "validate:c1", "check:c1"}, lc.calls)
}

func TestComprobanteHandler_OtraEmpresaNoLlegaAlCiclo(t *testing.T) {
	lc := &fakeLifecycle{}
	app, _ := newAPI(t, lc)

	resp := call(t, app, http.MethodPost, "/api/comprobantes/c2/send", apphttp.RoleEmisor, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, lc.calls)

	resp = call(t, app, http.MethodPost, "/api/comprobantes/nada/send", apphttp.RoleEmisor, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestComprobanteHandler_ConsultaNoDisparaEnvio(t *testing.T) {
	lc := &fakeLifecycle{}
	app, _ := newAPI(t, lc)

	resp := call(t, app, http.MethodPost, "/api/comprobantes/c1/send", apphttp.RoleConsulta, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = call(t, app, http.MethodGet, "/api/comprobantes/c1/status", apphttp.RoleConsulta, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st dto.ComprobanteStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, string(entity.StatusNotSent), st.Status)
	assert.NotNil(t, st.Issues)
	assert.Empty(t, lc.calls)
}

func TestComprobanteHandler_CreateValidaCuerpo(t *testing.T) {
	app, drafts := newAPI(t, &fakeLifecycle{})

	resp := call(t, app, http.MethodPost, "/api/comprobantes", apphttp.RoleEmisor, map[string]any{
		"emission_point_id": "no-es-uuid",
		"environment":       "staging",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "VALIDATION", e.Code)
	assert.Contains(t, e.Fields, "CreateComprobanteRequest.EmissionPointID")
	assert.Contains(t, e.Fields, "CreateComprobanteRequest.Environment")
	assert.Empty(t, drafts.created)

	resp = call(t, app, http.MethodPost, "/api/comprobantes", apphttp.RoleEmisor, map[string]any{
		"emission_point_id": "5f0c6f6e-6f0a-4c55-9d0b-8f2a7e0b9a11",
		"environment":       "test",
		"date":              time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		"buyer":             map[string]any{"id": "1710034065", "name": "Juan Pérez"},
		"lines": []map[string]any{{
			"code": "P1", "description": "Servicio", "quantity": "1", "unit_price": "100",
			"discount": "0", "iva_rate_code": "4", "iva_percent": "15",
		}},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, drafts.created, 1)
	assert.Equal(t, "15", drafts.created[0].Lines[0].IVAPercent.String())
}

func TestComprobanteHandler_CantidadCeroRechazada(t *testing.T) {
	app, drafts := newAPI(t, &fakeLifecycle{})
	resp := call(t, app, http.MethodPost, "/api/comprobantes", apphttp.RoleEmisor, map[string]any{
		"emission_point_id": "5f0c6f6e-6f0a-4c55-9d0b-8f2a7e0b9a11",
		"environment":       "test",
		"date":              time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		"buyer":             map[string]any{"id": "1710034065", "name": "Juan Pérez"},
		"lines": []map[string]any{{
			"code": "P1", "description": "Servicio", "quantity": "0", "unit_price": "100",
			"iva_rate_code": "4", "iva_percent": "15",
		}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, drafts.created)
}

func TestComprobanteHandler_MontosSinPerderPrecision(t *testing.T) {
	cases := []struct {
		name  string
		field string
		value string
	}{
		{"iva apenas sobre 100", "iva_percent", "100.00000000000000001"},
		{"cantidad positiva minima", "quantity", "0.00000000000000000001"},
		{"descuento apenas negativo", "discount", "-0.00000000000000000001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, drafts := newAPI(t, &fakeLifecycle{})
			line := map[string]any{
				"code": "P1", "description": "Servicio", "quantity": "1", "unit_price": "100",
				"discount": "0", "iva_rate_code": "4", "iva_percent": "15",
			}
			line[tc.field] = tc.value
			resp := call(t, app, http.MethodPost, "/api/comprobantes", apphttp.RoleEmisor, map[string]any{
				"emission_point_id": "5f0c6f6e-6f0a-4c55-9d0b-8f2a7e0b9a11",
				"environment":       "test",
				"date":              time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
				"buyer":             map[string]any{"id": "1710034065", "name": "Juan Pérez"},
				"lines":             []map[string]any{line},
			})
			if tc.field == "quantity" {
				assert.Equal(t, http.StatusCreated, resp.StatusCode)
				assert.Len(t, drafts.created, 1)
				return
			}
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, drafts.created)
		})
	}
}

func TestValidateIdentification(t *testing.T) {
	app, _ := newAPI(t, &fakeLifecycle{})
	cases := []struct {
		value  string
		valid  bool
		kind   string
		idType string
	}{
		{"1710034065", true, "cedula", "05"},
		{"1710034066", false, "cedula", "06"},
		{"1791321634001", true, "ruc", "04"},
	}
	for _, tc := range cases {
		resp := call(t, app, http.MethodPost, "/api/sri/identifications/validate", "", map[string]string{"value": tc.value})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out dto.ValidateIdentificationResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		resp.Body.Close()
		assert.Equal(t, tc.valid, out.Valid, tc.value)
		assert.Equal(t, tc.kind, out.Kind, tc.value)
		assert.Equal(t, tc.idType, out.IDType, tc.value)
		if !tc.valid {
			assert.NotEmpty(t, out.Reason)
		}
	}
}
