package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// Status es el estado del comprobante en el ciclo de envío al SRI.
type Status string

const (
	StatusNotSent     Status = "NOT_SENT"      // Borrador editable
	StatusReadyToSend Status = "READY_TO_SEND" // Aceptado localmente, pendiente de envío
	StatusSent        Status = "SENT"          // RECIBIDA por el SRI, pendiente de autorización
	StatusRejected    Status = "REJECTED"      // DEVUELTA o RECHAZADA; se corrige y se vuelve a aceptar
	StatusAccepted    Status = "ACCEPTED"      // AUTORIZADO
	StatusAnnulled    Status = "ANNULLED"      // Anulado en el portal del SRI
)

// Nombres de operación usados en PreconditionViolation.
const (
	OpAccept          = "accept"
	OpSendToSRI       = "send_to_sri"
	OpValidateInSRI   = "validate_in_sri"
	OpCheckIfAnnulled = "check_if_annulled_in_sri"
)

// Buyer son los datos del comprador.
type Buyer struct {
	IDType  string // tabla 6: 04 RUC, 05 cédula, 06 pasaporte, 07 consumidor final
	ID      string
	Name    string
	Address string
	Email   string
}

// ComprobanteLine es un detalle del comprobante.
type ComprobanteLine struct {
	ID            string
	ComprobanteID string
	Position      int
	Code          string
	Description   string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	Discount      decimal.Decimal
	IVARateCode   string          // código de porcentaje (tabla 17)
	IVAPercent    decimal.Decimal // ej. 15
	Subtotal      decimal.Decimal // cantidad * precio - descuento
}

// IVA devuelve el impuesto de la línea redondeado a 2 decimales.
func (l ComprobanteLine) IVA() decimal.Decimal {
	return l.Subtotal.Mul(l.IVAPercent).Div(decimal.NewFromInt(100)).Round(2)
}

// SubmissionState es la parte del comprobante que solo cambian las operaciones del
// ciclo de vida. Se expone como copia de lectura y para hidratar desde persistencia.
type SubmissionState struct {
	Status              Status
	Number              string // número legible, ej. "001-002-000000123"
	NumericCode         string // código numérico de la clave del intento actual
	AccessKey           string
	Sequence            int64
	SignedXML           string
	AuthorizationNumber string
	AuthorizationDate   *time.Time
	Issues              []Issue
	LastCheckedAt       *time.Time
}

// Comprobante es el documento tributario. Los campos exportados son el contenido
// (editable en NotSent y Rejected); el estado de envío vive en un campo privado.
type Comprobante struct {
	ID              string
	CompanyID       string
	EmissionPointID string
	DocumentType    sri.DocumentType
	Date            time.Time
	Environment     sri.Environment
	EmissionType    sri.EmissionType
	Buyer           Buyer
	Lines           []ComprobanteLine
	Subtotal        decimal.Decimal
	IVATotal        decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   string // tabla 24
	CreatedAt       time.Time
	UpdatedAt       time.Time

	state SubmissionState
}

// NewComprobante crea un borrador en estado NotSent.
func NewComprobante() *Comprobante {
	return &Comprobante{state: SubmissionState{Status: StatusNotSent}}
}

// RestoreComprobante hidrata el estado de envío leído de persistencia.
// Solo deben usarlo los repositorios.
func RestoreComprobante(c *Comprobante, st SubmissionState) *Comprobante {
	if st.Status == "" {
		st.Status = StatusNotSent
	}
	st.Issues = append([]Issue(nil), st.Issues...)
	c.state = st
	return c
}

func (c *Comprobante) Status() Status                { return c.state.Status }
func (c *Comprobante) Number() string                { return c.state.Number }
func (c *Comprobante) NumericCode() string           { return c.state.NumericCode }
func (c *Comprobante) AccessKey() string             { return c.state.AccessKey }
func (c *Comprobante) Sequence() int64               { return c.state.Sequence }
func (c *Comprobante) SignedXML() string             { return c.state.SignedXML }
func (c *Comprobante) AuthorizationNumber() string   { return c.state.AuthorizationNumber }
func (c *Comprobante) AuthorizationDate() *time.Time { return c.state.AuthorizationDate }
func (c *Comprobante) LastCheckedAt() *time.Time     { return c.state.LastCheckedAt }
func (c *Comprobante) Issues() []Issue               { return append([]Issue(nil), c.state.Issues...) }
func (c *Comprobante) HasAccessKey() bool            { return c.state.AccessKey != "" }
func (c *Comprobante) Deletable() bool               { return c.state.Status == StatusNotSent }

// Editable indica si el contenido admite cambios: borradores y comprobantes
// rechazados, que se corrigen antes de volver a aceptarlos.
func (c *Comprobante) Editable() bool {
	return c.state.Status == StatusNotSent || c.state.Status == StatusRejected
}

// State devuelve una copia del estado de envío.
func (c *Comprobante) State() SubmissionState {
	st := c.state
	st.Issues = c.Issues()
	return st
}

// ComputeTotals recalcula subtotales de línea y totales de cabecera.
func (c *Comprobante) ComputeTotals() {
	subtotal, iva := decimal.Zero, decimal.Zero
	for i := range c.Lines {
		l := &c.Lines[i]
		l.Subtotal = l.Quantity.Mul(l.UnitPrice).Sub(l.Discount).Round(2)
		subtotal = subtotal.Add(l.Subtotal)
		iva = iva.Add(l.IVA())
	}
	c.Subtotal = subtotal
	c.IVATotal = iva
	c.Total = subtotal.Add(iva)
}

func (c *Comprobante) violation(op, reason string) error {
	return &domain.PreconditionViolation{Op: op, Status: string(c.state.Status), Reason: reason}
}

// Accept pasa a ReadyToSend desde NotSent o Rejected.
func (c *Comprobante) Accept() error {
	if c.state.Status != StatusNotSent && c.state.Status != StatusRejected {
		return c.violation(OpAccept, "solo se aceptan comprobantes en NotSent o Rejected")
	}
	if !c.Environment.Valid() {
		return c.violation(OpAccept, "ambiente no definido")
	}
	c.state.Status = StatusReadyToSend
	return nil
}

// CheckSendable verifica la guarda de send_to_SRI.
func (c *Comprobante) CheckSendable() error {
	if c.state.Status != StatusReadyToSend {
		return c.violation(OpSendToSRI, "el comprobante no está en ReadyToSend")
	}
	if c.EmissionPointID == "" {
		return c.violation(OpSendToSRI, "punto de emisión no definido")
	}
	if !c.Environment.Valid() {
		return c.violation(OpSendToSRI, "ambiente no definido")
	}
	return nil
}

// SubmissionDraft es el resultado de preparar un intento de envío.
type SubmissionDraft struct {
	Number      string
	NumericCode string
	AccessKey   string
	Sequence    int64
	SignedXML   string
	Issues      []Issue // avisos del intento, se agregan a los existentes
}

// AssignDraft guarda número, clave, secuencial y XML firmado del intento actual.
func (c *Comprobante) AssignDraft(d SubmissionDraft) error {
	if c.state.Status != StatusReadyToSend {
		return c.violation(OpSendToSRI, "solo se genera el borrador en ReadyToSend")
	}
	if len(d.AccessKey) != sri.AccessKeyLength {
		return c.violation(OpSendToSRI, "clave de acceso de longitud inválida")
	}
	c.state.Number = d.Number
	c.state.NumericCode = d.NumericCode
	c.state.AccessKey = d.AccessKey
	c.state.Sequence = d.Sequence
	c.state.SignedXML = d.SignedXML
	c.state.Issues = append(c.state.Issues, d.Issues...)
	return nil
}

// MarkSent registra la recepción del SRI (o un AUTORIZADO previo). Desde aquí la
// clave de acceso es inmutable.
func (c *Comprobante) MarkSent() error {
	if c.state.Status != StatusReadyToSend {
		return c.violation(OpSendToSRI, "solo se marca Sent desde ReadyToSend")
	}
	if !c.HasAccessKey() {
		return c.violation(OpSendToSRI, "sin clave de acceso")
	}
	c.state.Status = StatusSent
	return nil
}

// MarkRejected registra una devolución (recepción) o un rechazo (autorización).
func (c *Comprobante) MarkRejected(authorizationDate *time.Time, issues []Issue) error {
	switch c.state.Status {
	case StatusReadyToSend:
	case StatusSent:
		c.state.AuthorizationDate = authorizationDate
	default:
		return c.violation(OpValidateInSRI, "solo se rechaza desde ReadyToSend o Sent")
	}
	c.state.Issues = append(c.state.Issues, issues...)
	c.state.Status = StatusRejected
	return nil
}

// CheckValidatable verifica la guarda de validate_in_SRI.
func (c *Comprobante) CheckValidatable() error {
	if c.state.Status != StatusSent {
		return c.violation(OpValidateInSRI, "el comprobante no está en Sent")
	}
	if !c.HasAccessKey() {
		return c.violation(OpValidateInSRI, "sin clave de acceso")
	}
	return nil
}

// MarkAuthorized copia número y fecha de autorización y pasa a Accepted.
func (c *Comprobante) MarkAuthorized(number string, date time.Time, issues []Issue) error {
	if err := c.CheckValidatable(); err != nil {
		return err
	}
	c.state.AuthorizationNumber = number
	c.state.AuthorizationDate = &date
	c.state.Issues = append(c.state.Issues, issues...)
	c.state.Status = StatusAccepted
	return nil
}

// CheckAnnulmentDue verifica la guarda de check_if_annulled_in_SRI: Accepted, con
// clave, autorizado hace menos de window y sin consultas en el último throttle.
func (c *Comprobante) CheckAnnulmentDue(now time.Time, window, throttle time.Duration) error {
	if c.state.Status != StatusAccepted {
		return c.violation(OpCheckIfAnnulled, "el comprobante no está en Accepted")
	}
	if !c.HasAccessKey() {
		return c.violation(OpCheckIfAnnulled, "sin clave de acceso")
	}
	if c.state.AuthorizationDate == nil || now.Sub(*c.state.AuthorizationDate) >= window {
		return c.violation(OpCheckIfAnnulled, "fuera de la ventana de anulación")
	}
	if last := c.state.LastCheckedAt; last != nil && now.Sub(*last) < throttle {
		return c.violation(OpCheckIfAnnulled, "consultado hace menos del intervalo mínimo")
	}
	return nil
}

// MarkAnnulled pasa de Accepted a Annulled.
func (c *Comprobante) MarkAnnulled() error {
	if c.state.Status != StatusAccepted {
		return c.violation(OpCheckIfAnnulled, "solo se anula desde Accepted")
	}
	c.state.Status = StatusAnnulled
	return nil
}

// StampChecked registra la hora de la última consulta al SRI.
func (c *Comprobante) StampChecked(at time.Time) {
	c.state.LastCheckedAt = &at
}
