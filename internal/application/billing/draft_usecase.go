package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/comprobantes-sri/internal/application/dto"
	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/internal/domain/repository"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// DefaultPaymentMethod es "sin utilización del sistema financiero" (tabla 24).
const DefaultPaymentMethod = "01"

// DraftUseCase administra el contenido de borradores (NotSent) y de comprobantes
// rechazados. El estado de envío no se toca aquí: solo lo cambia Lifecycle.
type DraftUseCase struct {
	comprobantes repository.ComprobanteRepository
	points       repository.EmissionPointRepository
}

// NewDraftUseCase construye el caso de uso.
func NewDraftUseCase(comprobantes repository.ComprobanteRepository, points repository.EmissionPointRepository) *DraftUseCase {
	return &DraftUseCase{comprobantes: comprobantes, points: points}
}

// Create crea un borrador de companyID con totales calculados.
func (uc *DraftUseCase) Create(ctx context.Context, companyID string, in dto.CreateComprobanteRequest) (*dto.ComprobanteResponse, error) {
	if err := uc.checkPoint(ctx, companyID, in.EmissionPointID); err != nil {
		return nil, err
	}
	c := entity.NewComprobante()
	c.ID = uuid.New().String()
	c.CompanyID = companyID
	applyDraft(c, in)
	if err := uc.comprobantes.Create(ctx, c); err != nil {
		return nil, err
	}
	return ComprobanteToResponse(c), nil
}

// Update reemplaza el contenido de un borrador o de un comprobante rechazado; los
// issues se conservan. En otro estado devuelve domain.PreconditionViolation.
func (uc *DraftUseCase) Update(ctx context.Context, companyID, id string, in dto.CreateComprobanteRequest) (*dto.ComprobanteResponse, error) {
	c, err := uc.load(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, &domain.PreconditionViolation{Op: "update_draft", Status: string(c.Status()), Reason: "solo se editan borradores o comprobantes rechazados"}
	}
	if err := uc.checkPoint(ctx, companyID, in.EmissionPointID); err != nil {
		return nil, err
	}
	c.Lines = nil
	applyDraft(c, in)
	if err := uc.comprobantes.UpdateDraft(ctx, c); err != nil {
		return nil, err
	}
	return ComprobanteToResponse(c), nil
}

// Delete elimina un borrador.
func (uc *DraftUseCase) Delete(ctx context.Context, companyID, id string) error {
	c, err := uc.load(ctx, companyID, id)
	if err != nil {
		return err
	}
	if !c.Deletable() {
		return &domain.PreconditionViolation{Op: "delete_draft", Status: string(c.Status()), Reason: "solo se eliminan borradores"}
	}
	return uc.comprobantes.DeleteDraft(ctx, id)
}

// Get devuelve el comprobante si pertenece a companyID.
func (uc *DraftUseCase) Get(ctx context.Context, companyID, id string) (*entity.Comprobante, error) {
	return uc.load(ctx, companyID, id)
}

func (uc *DraftUseCase) load(ctx context.Context, companyID, id string) (*entity.Comprobante, error) {
	c, err := uc.comprobantes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("comprobante %s: %w", id, domain.ErrNotFound)
	}
	if c.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	return c, nil
}

func (uc *DraftUseCase) checkPoint(ctx context.Context, companyID, pointID string) error {
	p, err := uc.points.GetByID(ctx, pointID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("punto de emisión %s: %w", pointID, domain.ErrNotFound)
	}
	if p.CompanyID != companyID {
		return domain.ErrForbidden
	}
	return nil
}

func applyDraft(c *entity.Comprobante, in dto.CreateComprobanteRequest) {
	c.EmissionPointID = in.EmissionPointID
	c.DocumentType = sri.DocumentType(in.DocumentType)
	if c.DocumentType == "" {
		c.DocumentType = sri.DocumentFactura
	}
	c.Date = in.Date
	c.Environment = sri.Environment(in.Environment)
	c.Buyer = entity.Buyer{
		IDType:  in.Buyer.IDType,
		ID:      in.Buyer.ID,
		Name:    in.Buyer.Name,
		Address: in.Buyer.Address,
		Email:   in.Buyer.Email,
	}
	if c.Buyer.IDType == "" {
		c.Buyer.IDType = sri.IdentificationTypeFor(in.Buyer.ID)
	}
	c.PaymentMethod = in.PaymentMethod
	if c.PaymentMethod == "" {
		c.PaymentMethod = DefaultPaymentMethod
	}
	c.Lines = make([]entity.ComprobanteLine, 0, len(in.Lines))
	for i, l := range in.Lines {
		c.Lines = append(c.Lines, entity.ComprobanteLine{
			Position:    i + 1,
			Code:        l.Code,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			IVARateCode: l.IVARateCode,
			IVAPercent:  l.IVAPercent,
		})
	}
	c.ComputeTotals()
}

// ComprobanteToResponse mapea la entidad a la salida HTTP.
func ComprobanteToResponse(c *entity.Comprobante) *dto.ComprobanteResponse {
	st := c.State()
	out := &dto.ComprobanteResponse{
		ID:                  c.ID,
		CompanyID:           c.CompanyID,
		EmissionPointID:     c.EmissionPointID,
		DocumentType:        string(c.DocumentType),
		Number:              c.Number(),
		Date:                c.Date,
		Environment:         string(c.Environment),
		Status:              string(st.Status),
		AccessKey:           st.AccessKey,
		AuthorizationNumber: st.AuthorizationNumber,
		AuthorizationDate:   st.AuthorizationDate,
		Subtotal:            c.Subtotal,
		IVATotal:            c.IVATotal,
		Total:               c.Total,
		Issues:              IssuesToResponse(st.Issues),
	}
	for _, l := range c.Lines {
		out.Lines = append(out.Lines, dto.ComprobanteLineResponse{
			Position:    l.Position,
			Code:        l.Code,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			IVARateCode: l.IVARateCode,
			IVAPercent:  l.IVAPercent,
			Subtotal:    l.Subtotal,
		})
	}
	return out
}

// ComprobanteToStatus mapea el estado de envío.
func ComprobanteToStatus(c *entity.Comprobante) *dto.ComprobanteStatusResponse {
	st := c.State()
	return &dto.ComprobanteStatusResponse{
		ID:                  c.ID,
		Status:              string(st.Status),
		AccessKey:           st.AccessKey,
		AuthorizationNumber: st.AuthorizationNumber,
		AuthorizationDate:   st.AuthorizationDate,
		LastCheckedAt:       st.LastCheckedAt,
		Issues:              IssuesToResponse(st.Issues),
	}
}

// IssuesToResponse nunca devuelve nil.
func IssuesToResponse(issues []entity.Issue) []dto.IssueResponse {
	out := make([]dto.IssueResponse, 0, len(issues))
	for _, i := range issues {
		out = append(out, dto.IssueResponse{
			Type:           i.Tipo,
			Identifier:     i.Identificador,
			Message:        i.Mensaje,
			AdditionalInfo: i.InformacionAdicional,
		})
	}
	return out
}
