package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// BuyerRequest datos del comprador.
type BuyerRequest struct {
	IDType  string `json:"id_type" validate:"omitempty,oneof=04 05 06 07 08"`
	ID      string `json:"id" validate:"required,max=20"`
	Name    string `json:"name" validate:"required,max=300"`
	Address string `json:"address" validate:"max=300"`
	Email   string `json:"email" validate:"omitempty,email"`
}

// ComprobanteLineRequest detalle de un comprobante.
type ComprobanteLineRequest struct {
	Code        string          `json:"code" validate:"required,max=25"`
	Description string          `json:"description" validate:"required,max=300"`
	Quantity    decimal.Decimal `json:"quantity" validate:"dgt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"dgte=0"`
	Discount    decimal.Decimal `json:"discount" validate:"dgte=0"`
	IVARateCode string          `json:"iva_rate_code" validate:"required,max=4"`
	IVAPercent  decimal.Decimal `json:"iva_percent" validate:"dgte=0,dlte=100"`
}

// CreateComprobanteRequest entrada para crear o reemplazar un borrador.
// Environment acepta "test" o "production"; DocumentType por defecto es factura ("01").
type CreateComprobanteRequest struct {
	EmissionPointID string                   `json:"emission_point_id" validate:"required,uuid"`
	DocumentType    string                   `json:"document_type" validate:"omitempty,oneof=01 04 05 06 07"`
	Date            time.Time                `json:"date" validate:"required"`
	Environment     string                   `json:"environment" validate:"required,oneof=test production"`
	Buyer           BuyerRequest             `json:"buyer" validate:"required"`
	PaymentMethod   string                   `json:"payment_method" validate:"omitempty,len=2,numeric"`
	Lines           []ComprobanteLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// IssueResponse mensaje estructurado del SRI o del sistema.
type IssueResponse struct {
	Type           string `json:"type"`
	Identifier     string `json:"identifier"`
	Message        string `json:"message"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

// ComprobanteLineResponse detalle en la salida.
type ComprobanteLineResponse struct {
	Position    int             `json:"position"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	IVARateCode string          `json:"iva_rate_code"`
	IVAPercent  decimal.Decimal `json:"iva_percent"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// ComprobanteResponse salida de un comprobante con su estado de envío.
type ComprobanteResponse struct {
	ID                  string                    `json:"id"`
	CompanyID           string                    `json:"company_id"`
	EmissionPointID     string                    `json:"emission_point_id"`
	DocumentType        string                    `json:"document_type"`
	Number              string                    `json:"number,omitempty"`
	Date                time.Time                 `json:"date"`
	Environment         string                    `json:"environment"`
	Status              string                    `json:"status"`
	AccessKey           string                    `json:"access_key,omitempty"`
	AuthorizationNumber string                    `json:"authorization_number,omitempty"`
	AuthorizationDate   *time.Time                `json:"authorization_date,omitempty"`
	Subtotal            decimal.Decimal           `json:"subtotal"`
	IVATotal            decimal.Decimal           `json:"iva_total"`
	Total               decimal.Decimal           `json:"total"`
	Lines               []ComprobanteLineResponse `json:"lines,omitempty"`
	Issues              []IssueResponse           `json:"issues"`
}

// ComprobanteStatusResponse salida corta para GET /status.
type ComprobanteStatusResponse struct {
	ID                  string          `json:"id"`
	Status              string          `json:"status"`
	AccessKey           string          `json:"access_key,omitempty"`
	AuthorizationNumber string          `json:"authorization_number,omitempty"`
	AuthorizationDate   *time.Time      `json:"authorization_date,omitempty"`
	LastCheckedAt       *time.Time      `json:"last_checked_at,omitempty"`
	Issues              []IssueResponse `json:"issues"`
}

// ValidateIdentificationRequest entrada para validar cédula o RUC.
type ValidateIdentificationRequest struct {
	Value string `json:"value" validate:"required,max=20"`
	Kind  string `json:"kind" validate:"omitempty,oneof=cedula ruc"`
}

// ValidateIdentificationResponse resultado de la validación.
type ValidateIdentificationResponse struct {
	Value  string `json:"value"`
	Kind   string `json:"kind"`
	Valid  bool   `json:"valid"`
	IDType string `json:"id_type"`
	Reason string `json:"reason,omitempty"`
}
