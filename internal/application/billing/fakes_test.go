package billing_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// ── memStore: repositorios en memoria ─────────────────────────────────────────

type memStore struct {
	mu           sync.Mutex
	comprobantes map[string]*entity.Comprobante
	companies    map[string]*entity.Company
	points       map[string]*entity.EmissionPoint
	commits      int
	saves        int
}

func newMemStore() *memStore {
	return &memStore{
		comprobantes: map[string]*entity.Comprobante{},
		companies:    map[string]*entity.Company{},
		points:       map[string]*entity.EmissionPoint{},
	}
}

func snapshot(c *entity.Comprobante) *entity.Comprobante {
	return withState(c, c.State())
}

// withState copia el contenido de c con el estado de envío st.
func withState(c *entity.Comprobante, st entity.SubmissionState) *entity.Comprobante {
	cp := *c
	cp.Lines = append([]entity.ComprobanteLine(nil), c.Lines...)
	return entity.RestoreComprobante(&cp, st)
}

// ComprobanteRepository

func (s *memStore) Create(_ context.Context, c *entity.Comprobante) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comprobantes[c.ID] = snapshot(c)
	return nil
}

func (s *memStore) UpdateDraft(_ context.Context, c *entity.Comprobante) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.comprobantes[c.ID]
	if !ok || !cur.Editable() {
		return domain.ErrConflict
	}
	// Como el UPDATE de PostgreSQL: contenido nuevo, estado de envío el guardado.
	s.comprobantes[c.ID] = withState(c, cur.State())
	return nil
}

func (s *memStore) DeleteDraft(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comprobantes, id)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*entity.Comprobante, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comprobantes[id]
	if !ok {
		return nil, nil
	}
	return snapshot(c), nil
}

// SaveState copia solo el estado de envío sobre el contenido guardado y respeta la
// unicidad de la clave en Sent, Accepted y Annulled (índice parcial de PostgreSQL).
func (s *memStore) SaveState(_ context.Context, c *entity.Comprobante) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.comprobantes[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	st := c.State()
	if keyLocked(st.Status) {
		for id, other := range s.comprobantes {
			if id != c.ID && keyLocked(other.Status()) && other.AccessKey() == st.AccessKey {
				return fmt.Errorf("%w: clave de acceso %s", domain.ErrDuplicate, st.AccessKey)
			}
		}
	}
	s.saves++
	s.comprobantes[c.ID] = withState(cur, st)
	return nil
}

func keyLocked(st entity.Status) bool {
	return st == entity.StatusSent || st == entity.StatusAccepted || st == entity.StatusAnnulled
}

func (s *memStore) ListByStatus(_ context.Context, status entity.Status, limit int) ([]*entity.Comprobante, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Comprobante
	for _, c := range s.sorted() {
		if c.Status() == status && len(out) < limit {
			out = append(out, snapshot(c))
		}
	}
	return out, nil
}

func (s *memStore) ListAnnulmentCandidates(_ context.Context, authorizedAfter, checkedBefore time.Time, limit int) ([]*entity.Comprobante, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Comprobante
	for _, c := range s.sorted() {
		if c.Status() != entity.StatusAccepted || c.AuthorizationDate() == nil {
			continue
		}
		if !c.AuthorizationDate().After(authorizedAfter) {
			continue
		}
		if last := c.LastCheckedAt(); last != nil && last.After(checkedBefore) {
			continue
		}
		if len(out) < limit {
			out = append(out, snapshot(c))
		}
	}
	return out, nil
}

func (s *memStore) sorted() []*entity.Comprobante {
	out := make([]*entity.Comprobante, 0, len(s.comprobantes))
	for _, c := range s.comprobantes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) get(id string) *entity.Comprobante {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.comprobantes[id])
}

// CompanyRepository

type memCompanies struct{ s *memStore }

func (r memCompanies) Create(_ context.Context, c *entity.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.companies[c.ID] = c
	return nil
}

func (r memCompanies) GetByID(_ context.Context, id string) (*entity.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (r memCompanies) GetByRUC(_ context.Context, ruc string) (*entity.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.companies {
		if c.RUC == ruc {
			return c, nil
		}
	}
	return nil, nil
}

func (r memCompanies) Update(ctx context.Context, c *entity.Company) error { return r.Create(ctx, c) }

// EmissionPointRepository

type memPoints struct{ s *memStore }

func (r memPoints) GetByID(_ context.Context, id string) (*entity.EmissionPoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.points[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r memPoints) PeekSequence(_ context.Context, pointID string, env sri.Environment) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.points[pointID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p.NextSequence(env), nil
}

func (r memPoints) CommitSequence(_ context.Context, pointID string, env sri.Environment, value int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.points[pointID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.NextSequence(env) > value {
		return domain.ErrSequenceConflict
	}
	if env == sri.EnvironmentProduction {
		p.SeqProduction = value + 1
	} else {
		p.SeqTest = value + 1
	}
	r.s.commits++
	return nil
}

func (s *memStore) counter(pointID string, env sri.Environment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[pointID].NextSequence(env)
}

func (s *memStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// SubmissionTxRunner sin rollback real: basta para verificar que commit y Sent
// ocurren dentro de la misma llamada.
type memTx struct {
	s     *memStore
	calls int
	mu    sync.Mutex
}

func (t *memTx) RunSubmission(_ context.Context, fn func(repository.ComprobanteRepository, repository.EmissionPointRepository) error) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return fn(t.s, memPoints{t.s})
}

// ── Colaboradores externos ────────────────────────────────────────────────────

type fakeRenderer struct{}

func (fakeRenderer) Render(_ *entity.Company, _ *entity.EmissionPoint, c *entity.Comprobante, key string, seq int64) ([]byte, error) {
	return []byte(fmt.Sprintf(`<factura id="comprobante"><claveAcceso>%s</claveAcceso><secuencial>%09d</secuencial></factura>`, key, seq)), nil
}

type fakeSigner struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeSigner) Sign(_ context.Context, taxID, ownerID string, xml []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(strings.Replace(string(xml), "</factura>", "<ds:Signature/></factura>", 1)), nil
}

type fakeAuthority struct {
	mu         sync.Mutex
	submit     func(xml []byte) (*sri.ReceptionResponse, error)
	authorize  func(key string) (*sri.AuthorizationResponse, error)
	submits    int
	authorizes int
	submitted  [][]byte
}

func (f *fakeAuthority) Submit(_ context.Context, _ sri.Environment, xml []byte) (*sri.ReceptionResponse, error) {
	f.mu.Lock()
	f.submits++
	f.submitted = append(f.submitted, xml)
	fn := f.submit
	f.mu.Unlock()
	if fn == nil {
		return received(), nil
	}
	return fn(xml)
}

func (f *fakeAuthority) Authorize(_ context.Context, _ sri.Environment, key string) (*sri.AuthorizationResponse, error) {
	f.mu.Lock()
	f.authorizes++
	fn := f.authorize
	f.mu.Unlock()
	if fn == nil {
		return &sri.AuthorizationResponse{QueriedKey: key}, nil
	}
	return fn(key)
}

func (f *fakeAuthority) counts() (submits, authorizes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.authorizes
}

func received() *sri.ReceptionResponse {
	return &sri.ReceptionResponse{Status: sri.ReceptionReceived}
}

func returned(id, msg string) *sri.ReceptionResponse {
	return &sri.ReceptionResponse{
		Status: sri.ReceptionReturned,
		Documents: []sri.ReceivedDocument{{
			Messages: []sri.Message{{Identifier: id, Message: msg, Type: "ERROR"}},
		}},
	}
}

func authorized(key string, at time.Time, n int) *sri.AuthorizationResponse {
	resp := &sri.AuthorizationResponse{QueriedKey: key, DocumentCount: n}
	for i := 0; i < n; i++ {
		resp.Authorizations = append(resp.Authorizations, sri.Authorization{
			State:  sri.AuthorizationAuthorized,
			Number: key,
			Date:   at.Add(time.Duration(i) * time.Minute),
		})
	}
	return resp
}

var errNetwork = errors.New("dial tcp: i/o timeout")

type fakeRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	anomalies int
}

func (r *fakeRecorder) ObserveOperation(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[op+"/"+outcome]++
}

func (r *fakeRecorder) IncAnomaly(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies++
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const (
	companyID = "co-1"
	pointID   = "pt-1"
)

func seedStore(s *memStore) {
	s.companies[companyID] = &entity.Company{ID: companyID, RUC: "1791321634001", LegalName: "ACME S.A."}
	s.points[pointID] = &entity.EmissionPoint{
		ID: pointID, CompanyID: companyID, EstablishmentCode: "001", Code: "002",
		SeqTest: 1, SeqProduction: 1,
	}
}

func newDraft(id string) *entity.Comprobante {
	c := entity.NewComprobante()
	c.ID = id
	c.CompanyID = companyID
	c.EmissionPointID = pointID
	c.DocumentType = sri.DocumentFactura
	c.Date = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	c.Environment = sri.EnvironmentTest
	c.EmissionType = sri.EmissionNormal
	c.Buyer = entity.Buyer{IDType: sri.IdentificacionCedula, ID: "1710034065", Name: "Juan Pérez"}
	c.Lines = []entity.ComprobanteLine{{
		Position: 1, Code: "P1", Description: "Servicio",
		Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100),
		IVARateCode: sri.IVARate15, IVAPercent: decimal.NewFromInt(15),
	}}
	c.ComputeTotals()
	return c
}
