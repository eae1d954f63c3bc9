package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/comprobantes-sri/internal/application/billing"
	"github.com/jhoicas/comprobantes-sri/internal/application/dto"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
)

// DraftService administra borradores; lo implementa *billing.DraftUseCase.
type DraftService interface {
	Create(ctx context.Context, companyID string, in dto.CreateComprobanteRequest) (*dto.ComprobanteResponse, error)
	Update(ctx context.Context, companyID, id string, in dto.CreateComprobanteRequest) (*dto.ComprobanteResponse, error)
	Delete(ctx context.Context, companyID, id string) error
	Get(ctx context.Context, companyID, id string) (*entity.Comprobante, error)
}

// LifecycleService son las cuatro operaciones del ciclo de vida; lo implementa *billing.Lifecycle.
type LifecycleService interface {
	Accept(ctx context.Context, id string) (*entity.Comprobante, error)
	SendToSRI(ctx context.Context, id string) (*entity.Comprobante, error)
	ValidateInSRI(ctx context.Context, id string) (*entity.Comprobante, error)
	CheckIfAnnulledInSRI(ctx context.Context, id string) (*entity.Comprobante, error)
}

// ComprobanteHandler expone borradores y el ciclo de vida frente al SRI.
type ComprobanteHandler struct {
	drafts    DraftService
	lifecycle LifecycleService
}

// NewComprobanteHandler construye el handler.
func NewComprobanteHandler(drafts DraftService, lifecycle LifecycleService) *ComprobanteHandler {
	return &ComprobanteHandler{drafts: drafts, lifecycle: lifecycle}
}

// Create godoc
// @Summary      Crear borrador
// @Tags         comprobantes
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CreateComprobanteRequest  true  "Contenido del comprobante"
// @Success      201   {object}  dto.ComprobanteResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/comprobantes [post]
func (h *ComprobanteHandler) Create(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.CreateComprobanteRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.drafts.Create(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// Update reemplaza un borrador.
// PUT /api/comprobantes/:id
func (h *ComprobanteHandler) Update(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.CreateComprobanteRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.drafts.Update(c.UserContext(), companyID, c.Params("id"), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Delete elimina un borrador.
// DELETE /api/comprobantes/:id
func (h *ComprobanteHandler) Delete(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	if err := h.drafts.Delete(c.UserContext(), companyID, c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetByID devuelve el comprobante completo.
// GET /api/comprobantes/:id
func (h *ComprobanteHandler) GetByID(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	cb, err := h.drafts.Get(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(billing.ComprobanteToResponse(cb))
}

// Status godoc
// @Summary      Estado de envío e issues
// @Tags         comprobantes
// @Produce      json
// @Param        id   path  string  true  "ID del comprobante"
// @Success      200  {object}  dto.ComprobanteStatusResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/comprobantes/{id}/status [get]
func (h *ComprobanteHandler) Status(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	cb, err := h.drafts.Get(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(billing.ComprobanteToStatus(cb))
}

// Accept POST /api/comprobantes/:id/accept
func (h *ComprobanteHandler) Accept(c *fiber.Ctx) error {
	return h.run(c, h.lifecycle.Accept)
}

// Send godoc
// @Summary      Enviar a recepción del SRI
// @Description  409 si el estado no lo permite; 503 si el SRI o el firmador no responden (estado sin cambios).
// @Tags         comprobantes
// @Produce      json
// @Param        id   path  string  true  "ID del comprobante"
// @Success      200  {object}  dto.ComprobanteStatusResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Router       /api/comprobantes/{id}/send [post]
func (h *ComprobanteHandler) Send(c *fiber.Ctx) error {
	return h.run(c, h.lifecycle.SendToSRI)
}

// Validate POST /api/comprobantes/:id/validate
func (h *ComprobanteHandler) Validate(c *fiber.Ctx) error {
	return h.run(c, h.lifecycle.ValidateInSRI)
}

// CheckAnnulled POST /api/comprobantes/:id/check-annulled
func (h *ComprobanteHandler) CheckAnnulled(c *fiber.Ctx) error {
	return h.run(c, h.lifecycle.CheckIfAnnulledInSRI)
}

// run verifica que el comprobante sea de la empresa del token y ejecuta op.
func (h *ComprobanteHandler) run(c *fiber.Ctx, op func(ctx context.Context, id string) (*entity.Comprobante, error)) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := h.drafts.Get(ctx, companyID, id); err != nil {
		return writeError(c, err)
	}
	cb, err := op(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(billing.ComprobanteToStatus(cb))
}
