package entity

// Tipos de issue. Los mensajes del SRI traen su propio tipo (ERROR, ADVERTENCIA,
// INFORMATIVO); IssueTypeAnomaly lo usamos para avisos que requieren a un operador.
const (
	IssueTypeError    = "ERROR"
	IssueTypeWarning  = "ADVERTENCIA"
	IssueTypeInfo     = "INFORMATIVO"
	IssueTypeAnomaly  = "ANOMALIA"
	IssueIDDuplicated = "AUTORIZACION_DUPLICADA"
	IssueIDForeignKey = "CLAVE_DE_OTRO_DOCUMENTO"
)

// Issue es un mensaje estructurado asociado al comprobante.
type Issue struct {
	Tipo                 string `json:"tipo"`
	Identificador        string `json:"identificador"`
	Mensaje              string `json:"mensaje"`
	InformacionAdicional string `json:"informacionAdicional,omitempty"`
}
