// Package sri contiene catálogos, validaciones y algoritmos deterministas de la
// ficha técnica de comprobantes electrónicos del SRI (Ecuador), esquema offline.
package sri

import "fmt"

// =============================================================================
// Tabla 3 - Tipos de comprobante (codDoc)
// =============================================================================

// DocumentType es el código de dos dígitos del tipo de comprobante.
type DocumentType string

const (
	DocumentFactura              DocumentType = "01"
	DocumentNotaCredito          DocumentType = "04"
	DocumentNotaDebito           DocumentType = "05"
	DocumentGuiaRemision         DocumentType = "06"
	DocumentComprobanteRetencion DocumentType = "07"
)

var documentTypeNames = map[DocumentType]string{
	DocumentFactura:              "factura",
	DocumentNotaCredito:          "nota_credito",
	DocumentNotaDebito:           "nota_debito",
	DocumentGuiaRemision:         "guia_remision",
	DocumentComprobanteRetencion: "comprobante_retencion",
}

// Valid indica si el código pertenece al vocabulario cerrado del SRI.
func (t DocumentType) Valid() bool {
	_, ok := documentTypeNames[t]
	return ok
}

// Name devuelve el nombre del vocabulario (factura, nota_credito...).
func (t DocumentType) Name() string { return documentTypeNames[t] }

var documentXMLRoots = map[DocumentType]string{
	DocumentFactura:              "factura",
	DocumentNotaCredito:          "notaCredito",
	DocumentNotaDebito:           "notaDebito",
	DocumentGuiaRemision:         "guiaRemision",
	DocumentComprobanteRetencion: "comprobanteRetencion",
}

// XMLRoot devuelve el elemento raíz del XML del comprobante.
func (t DocumentType) XMLRoot() string { return documentXMLRoots[t] }

// ParseDocumentType acepta tanto el código ("01") como el nombre ("factura").
func ParseDocumentType(s string) (DocumentType, error) {
	if t := DocumentType(s); t.Valid() {
		return t, nil
	}
	for code, name := range documentTypeNames {
		if name == s {
			return code, nil
		}
	}
	return "", fmt.Errorf("sri: tipo de comprobante desconocido %q", s)
}

// =============================================================================
// Tabla 4 - Ambiente
// =============================================================================

// Environment es el ambiente de emisión: pruebas o producción.
type Environment string

const (
	EnvironmentTest       Environment = "test"
	EnvironmentProduction Environment = "production"
)

// Code devuelve el dígito usado en la clave de acceso y en <ambiente>.
func (e Environment) Code() string {
	switch e {
	case EnvironmentTest:
		return "1"
	case EnvironmentProduction:
		return "2"
	default:
		return ""
	}
}

// Valid indica si el ambiente es uno de los dos soportados.
func (e Environment) Valid() bool { return e.Code() != "" }

// ParseEnvironment acepta "test"/"pruebas"/"1" y "production"/"produccion"/"2".
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "test", "pruebas", "1":
		return EnvironmentTest, nil
	case "production", "produccion", "producción", "prod", "2":
		return EnvironmentProduction, nil
	}
	return "", fmt.Errorf("sri: ambiente desconocido %q", s)
}

// =============================================================================
// Tabla 2 - Tipo de emisión
// =============================================================================

// EmissionType distingue emisión normal de contingencia.
type EmissionType string

const (
	EmissionNormal      EmissionType = "1"
	EmissionContingency EmissionType = "2"
)

// Valid indica si el tipo de emisión es conocido.
func (t EmissionType) Valid() bool {
	return t == EmissionNormal || t == EmissionContingency
}

// =============================================================================
// Estados devueltos por los web services offline
// =============================================================================

const (
	ReceptionReceived = "RECIBIDA"
	ReceptionReturned = "DEVUELTA"

	AuthorizationAuthorized    = "AUTORIZADO"
	AuthorizationRejected      = "RECHAZADA"
	AuthorizationNotAuthorized = "NO AUTORIZADO"
	AuthorizationInProcess     = "EN PROCESO"
)

// =============================================================================
// Tabla 6 - Tipo de identificación del comprador
// =============================================================================

const (
	IdentificacionRUC             = "04"
	IdentificacionCedula          = "05"
	IdentificacionPasaporte       = "06"
	IdentificacionConsumidorFinal = "07"
	IdentificacionExterior        = "08"
)

// =============================================================================
// Tabla 16/17 - Impuestos (IVA)
// =============================================================================

const (
	TaxCodeIVA = "2"

	IVARate0    = "0"
	IVARate12   = "2"
	IVARate14   = "3"
	IVARate15   = "4"
	IVARate5    = "5"
	IVANoObjeto = "6"
	IVAExento   = "7"
	IVARate13   = "10"
)

// Formas de pago (Tabla 24) de uso frecuente.
const (
	PaymentSinSistemaFinanciero = "01"
	PaymentTarjetaDebito        = "16"
	PaymentTarjetaCredito       = "19"
	PaymentOtrosSistemaFinanc   = "20"
)
