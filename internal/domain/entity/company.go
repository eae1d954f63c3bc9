package entity

import "time"

// Company representa un contribuyente emisor (tenant) registrado en el SRI.
type Company struct {
	ID                    string
	RUC                   string // RUC de 13 dígitos
	LegalName             string // razón social
	TradeName             string // nombre comercial
	Address               string // dirección matriz
	ObligadoContabilidad  bool
	ContribuyenteEspecial string // número de resolución, vacío si no aplica
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Establishment es un establecimiento (sucursal) de la empresa.
type Establishment struct {
	ID        string
	CompanyID string
	Code      string // 3 dígitos, ej. "001"
	Address   string
}
