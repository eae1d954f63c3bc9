package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/comprobantes-sri/internal/application/dto"
)

// CompanyService es lo que el handler necesita de usecase.CompanyUseCase.
type CompanyService interface {
	Create(ctx context.Context, in dto.CreateCompanyRequest) (*dto.CompanyResponse, error)
	GetByID(ctx context.Context, id string) (*dto.CompanyResponse, error)
	Update(ctx context.Context, id string, in dto.UpdateCompanyRequest) (*dto.CompanyResponse, error)
	CreateEstablishment(ctx context.Context, companyID string, in dto.CreateEstablishmentRequest) (*dto.EstablishmentResponse, error)
	CreateEmissionPoint(ctx context.Context, companyID string, in dto.CreateEmissionPointRequest) (*dto.EmissionPointResponse, error)
	ListEmissionPoints(ctx context.Context, companyID string) ([]dto.EmissionPointResponse, error)
}

// CompanyHandler maneja el emisor del token y su estructura de emisión.
type CompanyHandler struct {
	uc CompanyService
}

// NewCompanyHandler construye el handler inyectando el caso de uso.
func NewCompanyHandler(uc CompanyService) *CompanyHandler {
	return &CompanyHandler{uc: uc}
}

// Create godoc
// @Summary      Registrar emisor
// @Tags         companies
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CreateCompanyRequest  true  "Datos del contribuyente"
// @Success      201   {object}  dto.CompanyResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/companies [post]
func (h *CompanyHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateCompanyRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.uc.Create(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// Me devuelve el emisor del token.
// GET /api/company
func (h *CompanyHandler) Me(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.GetByID(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Update actualiza datos del emisor del token.
// PUT /api/company
func (h *CompanyHandler) Update(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.UpdateCompanyRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.uc.Update(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// CreateEstablishment POST /api/company/establishments
func (h *CompanyHandler) CreateEstablishment(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.CreateEstablishmentRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.uc.CreateEstablishment(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// CreateEmissionPoint POST /api/company/emission-points
func (h *CompanyHandler) CreateEmissionPoint(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.CreateEmissionPointRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.uc.CreateEmissionPoint(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// ListEmissionPoints GET /api/company/emission-points
func (h *CompanyHandler) ListEmissionPoints(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.ListEmissionPoints(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"items": out})
}
