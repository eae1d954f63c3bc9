package sri

import (
	"context"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Authority es el servicio del SRI en su esquema offline: recepción y autorización.
// Las implementaciones devuelven error solo ante fallos de transporte; las
// respuestas de negocio (DEVUELTA, RECHAZADA) viajan en el resultado.
type Authority interface {
	Submit(ctx context.Context, env Environment, signedXML []byte) (*ReceptionResponse, error)
	Authorize(ctx context.Context, env Environment, accessKey string) (*AuthorizationResponse, error)
}

// Message es un mensaje del SRI (identificador, mensaje, tipo, informacionAdicional).
type Message struct {
	Identifier string
	Message    string
	Type       string // ERROR, ADVERTENCIA, INFORMATIVO
	Extra      string
}

// ReceivedDocument es un comprobante devuelto por el servicio de recepción.
type ReceivedDocument struct {
	AccessKey string
	Messages  []Message
}

// ReceptionResponse es la respuesta de validarComprobante.
type ReceptionResponse struct {
	Status    string // RECIBIDA | DEVUELTA
	Documents []ReceivedDocument
}

// Received indica si el SRI recibió el comprobante.
func (r *ReceptionResponse) Received() bool {
	return r != nil && r.Status == ReceptionReceived
}

// Messages aplana los mensajes de todos los comprobantes de la respuesta.
func (r *ReceptionResponse) Messages() []Message {
	if r == nil {
		return nil
	}
	var out []Message
	for _, d := range r.Documents {
		out = append(out, d.Messages...)
	}
	return out
}

// Authorization es una autorización devuelta por autorizacionComprobante.
type Authorization struct {
	State          string // AUTORIZADO, RECHAZADA, NO AUTORIZADO, EN PROCESO
	Number         string
	Date           time.Time
	Environment    string
	SignedDocument string
	Messages       []Message
}

// Authorized indica si el estado es AUTORIZADO.
func (a Authorization) Authorized() bool { return a.State == AuthorizationAuthorized }

// Matches indica si el comprobante autorizado es el XML firmado signedXML. Se
// compara el SignatureValue, que el SRI conserva aunque reformatee el documento.
// Sin comprobante en la respuesta no hay con qué comparar y se da por propio.
func (a Authorization) Matches(signedXML string) bool {
	reported := strings.TrimSpace(a.SignedDocument)
	if reported == "" {
		return true
	}
	local := strings.TrimSpace(signedXML)
	if reported == local {
		return true
	}
	rv, lv := signatureValue(reported), signatureValue(local)
	return rv != "" && rv == lv
}

func signatureValue(xml string) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return ""
	}
	el := doc.FindElement("//SignatureValue")
	if el == nil {
		return ""
	}
	return strings.Join(strings.Fields(el.Text()), "")
}

// Rejected indica si el estado es RECHAZADA o NO AUTORIZADO.
func (a Authorization) Rejected() bool {
	return a.State == AuthorizationRejected || a.State == AuthorizationNotAuthorized
}

// AuthorizationResponse es la respuesta de autorizacionComprobante.
type AuthorizationResponse struct {
	QueriedKey     string
	DocumentCount  int
	Authorizations []Authorization
}

// Authorized devuelve las autorizaciones en estado AUTORIZADO, en el orden del SRI.
func (r *AuthorizationResponse) Authorized() []Authorization {
	if r == nil {
		return nil
	}
	var out []Authorization
	for _, a := range r.Authorizations {
		if a.Authorized() {
			out = append(out, a)
		}
	}
	return out
}

// FirstRejected devuelve la primera autorización rechazada, si existe.
func (r *AuthorizationResponse) FirstRejected() (Authorization, bool) {
	if r == nil {
		return Authorization{}, false
	}
	for _, a := range r.Authorizations {
		if a.Rejected() {
			return a, true
		}
	}
	return Authorization{}, false
}
