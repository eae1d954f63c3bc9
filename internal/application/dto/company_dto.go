package dto

import "time"

// CreateCompanyRequest entrada para registrar un contribuyente emisor.
type CreateCompanyRequest struct {
	RUC                   string `json:"ruc" validate:"required,len=13,numeric"`
	LegalName             string `json:"legal_name" validate:"required,min=1,max=300"`
	TradeName             string `json:"trade_name" validate:"max=300"`
	Address               string `json:"address" validate:"required,max=300"`
	ObligadoContabilidad  bool   `json:"obligado_contabilidad"`
	ContribuyenteEspecial string `json:"contribuyente_especial" validate:"omitempty,max=13"`
}

// UpdateCompanyRequest entrada para actualizar una empresa (campos opcionales).
type UpdateCompanyRequest struct {
	LegalName             *string `json:"legal_name" validate:"omitempty,min=1,max=300"`
	TradeName             *string `json:"trade_name" validate:"omitempty,max=300"`
	Address               *string `json:"address" validate:"omitempty,max=300"`
	ObligadoContabilidad  *bool   `json:"obligado_contabilidad"`
	ContribuyenteEspecial *string `json:"contribuyente_especial" validate:"omitempty,max=13"`
}

// CompanyResponse salida de una empresa.
type CompanyResponse struct {
	ID                    string    `json:"id"`
	RUC                   string    `json:"ruc"`
	LegalName             string    `json:"legal_name"`
	TradeName             string    `json:"trade_name"`
	Address               string    `json:"address"`
	ObligadoContabilidad  bool      `json:"obligado_contabilidad"`
	ContribuyenteEspecial string    `json:"contribuyente_especial,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CreateEstablishmentRequest alta de un establecimiento.
type CreateEstablishmentRequest struct {
	Code    string `json:"code" validate:"required,len=3,numeric"`
	Address string `json:"address" validate:"max=300"`
}

// EstablishmentResponse salida de un establecimiento.
type EstablishmentResponse struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Code      string `json:"code"`
	Address   string `json:"address"`
}

// CreateEmissionPointRequest alta de un punto de emisión. Los secuenciales iniciales
// permiten continuar una numeración existente; por defecto arrancan en 1.
type CreateEmissionPointRequest struct {
	EstablishmentID   string `json:"establishment_id" validate:"required,uuid"`
	EstablishmentCode string `json:"establishment_code" validate:"required,len=3,numeric"`
	Code              string `json:"code" validate:"required,len=3,numeric"`
	SeqTest           int64  `json:"seq_test" validate:"omitempty,min=1,max=999999999"`
	SeqProduction     int64  `json:"seq_production" validate:"omitempty,min=1,max=999999999"`
}

// EmissionPointResponse salida de un punto de emisión con sus próximos secuenciales.
type EmissionPointResponse struct {
	ID                string `json:"id"`
	EstablishmentID   string `json:"establishment_id"`
	EstablishmentCode string `json:"establishment_code"`
	Code              string `json:"code"`
	SeqTest           int64  `json:"seq_test"`
	SeqProduction     int64  `json:"seq_production"`
}
