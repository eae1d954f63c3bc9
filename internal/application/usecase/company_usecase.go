package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/comprobantes-sri/internal/application/dto"
	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// CompanyUseCase registra emisores, establecimientos y puntos de emisión.
type CompanyUseCase struct {
	repo   repository.CompanyRepository
	estabs repository.EstablishmentRepository
}

// NewCompanyUseCase construye el caso de uso con los puertos de persistencia.
func NewCompanyUseCase(repo repository.CompanyRepository, estabs repository.EstablishmentRepository) *CompanyUseCase {
	return &CompanyUseCase{repo: repo, estabs: estabs}
}

// Create registra un emisor. Devuelve domain.ErrInvalidInput si el RUC no pasa el
// módulo 11 y domain.ErrDuplicate si ya existe.
func (uc *CompanyUseCase) Create(ctx context.Context, in dto.CreateCompanyRequest) (*dto.CompanyResponse, error) {
	if err := sri.IsRuc(in.RUC); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	existing, err := uc.repo.GetByRUC(ctx, in.RUC)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicate
	}
	now := time.Now().UTC()
	company := &entity.Company{
		ID:                    uuid.New().String(),
		RUC:                   in.RUC,
		LegalName:             in.LegalName,
		TradeName:             in.TradeName,
		Address:               in.Address,
		ObligadoContabilidad:  in.ObligadoContabilidad,
		ContribuyenteEspecial: in.ContribuyenteEspecial,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := uc.repo.Create(ctx, company); err != nil {
		return nil, err
	}
	return entityToCompanyResponse(company), nil
}

// GetByID obtiene una empresa; domain.ErrNotFound si no existe.
func (uc *CompanyUseCase) GetByID(ctx context.Context, id string) (*dto.CompanyResponse, error) {
	company, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrNotFound
	}
	return entityToCompanyResponse(company), nil
}

// Update aplica los campos presentes.
func (uc *CompanyUseCase) Update(ctx context.Context, id string, in dto.UpdateCompanyRequest) (*dto.CompanyResponse, error) {
	company, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrNotFound
	}
	if in.LegalName != nil {
		company.LegalName = *in.LegalName
	}
	if in.TradeName != nil {
		company.TradeName = *in.TradeName
	}
	if in.Address != nil {
		company.Address = *in.Address
	}
	if in.ObligadoContabilidad != nil {
		company.ObligadoContabilidad = *in.ObligadoContabilidad
	}
	if in.ContribuyenteEspecial != nil {
		company.ContribuyenteEspecial = *in.ContribuyenteEspecial
	}
	if err := uc.repo.Update(ctx, company); err != nil {
		return nil, err
	}
	return entityToCompanyResponse(company), nil
}

// CreateEstablishment da de alta un establecimiento de companyID.
func (uc *CompanyUseCase) CreateEstablishment(ctx context.Context, companyID string, in dto.CreateEstablishmentRequest) (*dto.EstablishmentResponse, error) {
	if _, err := uc.GetByID(ctx, companyID); err != nil {
		return nil, err
	}
	e := &entity.Establishment{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		Code:      in.Code,
		Address:   in.Address,
	}
	if err := uc.estabs.CreateEstablishment(ctx, e); err != nil {
		return nil, err
	}
	return &dto.EstablishmentResponse{ID: e.ID, CompanyID: e.CompanyID, Code: e.Code, Address: e.Address}, nil
}

// CreateEmissionPoint da de alta un punto de emisión. Es la única forma de fijar
// un secuencial inicial distinto de 1; después solo lo avanza el envío al SRI.
func (uc *CompanyUseCase) CreateEmissionPoint(ctx context.Context, companyID string, in dto.CreateEmissionPointRequest) (*dto.EmissionPointResponse, error) {
	if _, err := uc.GetByID(ctx, companyID); err != nil {
		return nil, err
	}
	p := &entity.EmissionPoint{
		ID:                uuid.New().String(),
		EstablishmentID:   in.EstablishmentID,
		CompanyID:         companyID,
		EstablishmentCode: in.EstablishmentCode,
		Code:              in.Code,
		SeqTest:           max(in.SeqTest, 1),
		SeqProduction:     max(in.SeqProduction, 1),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := uc.estabs.CreateEmissionPoint(ctx, p); err != nil {
		return nil, err
	}
	return entityToPointResponse(p), nil
}

// ListEmissionPoints lista los puntos de emisión de la empresa.
func (uc *CompanyUseCase) ListEmissionPoints(ctx context.Context, companyID string) ([]dto.EmissionPointResponse, error) {
	list, err := uc.estabs.ListEmissionPoints(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.EmissionPointResponse, 0, len(list))
	for _, p := range list {
		out = append(out, *entityToPointResponse(p))
	}
	return out, nil
}

func entityToCompanyResponse(c *entity.Company) *dto.CompanyResponse {
	return &dto.CompanyResponse{
		ID:                    c.ID,
		RUC:                   c.RUC,
		LegalName:             c.LegalName,
		TradeName:             c.TradeName,
		Address:               c.Address,
		ObligadoContabilidad:  c.ObligadoContabilidad,
		ContribuyenteEspecial: c.ContribuyenteEspecial,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func entityToPointResponse(p *entity.EmissionPoint) *dto.EmissionPointResponse {
	return &dto.EmissionPointResponse{
		ID:                p.ID,
		EstablishmentID:   p.EstablishmentID,
		EstablishmentCode: p.EstablishmentCode,
		Code:              p.Code,
		SeqTest:           p.SeqTest,
		SeqProduction:     p.SeqProduction,
	}
}
