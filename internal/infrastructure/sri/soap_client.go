package sri

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// ── Endpoints ─────────────────────────────────────────────────────────────────

const (
	receptionURLTest     = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	authorizationURLTest = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"
	receptionURLProd     = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	authorizationURLProd = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"

	soapNS          = "http://schemas.xmlsoap.org/soap/envelope/"
	nsRecepcion     = "http://ec.gob.sri.ws.recepcion"
	nsAutorizacion  = "http://ec.gob.sri.ws.autorizacion"
	maxResponseSize = 8 << 20 // la autorización devuelve el comprobante completo
)

// Endpoints son las URLs de recepción y autorización de un ambiente.
type Endpoints struct {
	Reception     string
	Authorization string
}

// DefaultEndpoints devuelve las URLs oficiales: celcer (pruebas) y cel (producción).
func DefaultEndpoints() map[sri.Environment]Endpoints {
	return map[sri.Environment]Endpoints{
		sri.EnvironmentTest:       {Reception: receptionURLTest, Authorization: authorizationURLTest},
		sri.EnvironmentProduction: {Reception: receptionURLProd, Authorization: authorizationURLProd},
	}
}

// SOAPClient implementa sri.Authority contra los WS offline del SRI.
// Usa net/http y encoding/xml de la stdlib.
type SOAPClient struct {
	httpClient *http.Client
	endpoints  map[sri.Environment]Endpoints
}

// NewSOAPClient construye el cliente. Las URLs vacías en overrides se completan
// con las oficiales.
func NewSOAPClient(timeout time.Duration, overrides map[sri.Environment]Endpoints) *SOAPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	eps := DefaultEndpoints()
	for env, o := range overrides {
		cur := eps[env]
		if o.Reception != "" {
			cur.Reception = o.Reception
		}
		if o.Authorization != "" {
			cur.Authorization = o.Authorization
		}
		eps[env] = cur
	}
	return &SOAPClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoints:  eps,
	}
}

// ── Estructuras SOAP de solicitud ─────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	XmlnsS  string   `xml:"xmlns:soapenv,attr"`
	XmlnsEc string   `xml:"xmlns:ec,attr"`
	Header  struct{} `xml:"soapenv:Header"`
	Body    soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type validarComprobanteBody struct {
	XMLName xml.Name `xml:"ec:validarComprobante"`
	XML     string   `xml:"xml"` // comprobante firmado en Base64
}

type autorizacionComprobanteBody struct {
	XMLName   xml.Name `xml:"ec:autorizacionComprobante"`
	AccessKey string   `xml:"claveAccesoComprobante"`
}

// ── Estructuras SOAP de respuesta ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	Reception     *receptionResponseXML     `xml:"validarComprobanteResponse>RespuestaRecepcionComprobante"`
	Authorization *authorizationResponseXML `xml:"autorizacionComprobanteResponse>RespuestaAutorizacionComprobante"`
	Fault         *soapFault                `xml:"Fault"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

type mensajeXML struct {
	Identificador        string `xml:"identificador"`
	Mensaje              string `xml:"mensaje"`
	InformacionAdicional string `xml:"informacionAdicional"`
	Tipo                 string `xml:"tipo"`
}

type receptionResponseXML struct {
	Estado       string `xml:"estado"`
	Comprobantes []struct {
		ClaveAcceso string       `xml:"claveAcceso"`
		Mensajes    []mensajeXML `xml:"mensajes>mensaje"`
	} `xml:"comprobantes>comprobante"`
}

type authorizationResponseXML struct {
	ClaveAccesoConsultada string `xml:"claveAccesoConsultada"`
	NumeroComprobantes    string `xml:"numeroComprobantes"`
	Autorizaciones        []struct {
		Estado             string       `xml:"estado"`
		NumeroAutorizacion string       `xml:"numeroAutorizacion"`
		FechaAutorizacion  string       `xml:"fechaAutorizacion"`
		Ambiente           string       `xml:"ambiente"`
		Comprobante        string       `xml:"comprobante"`
		Mensajes           []mensajeXML `xml:"mensajes>mensaje"`
	} `xml:"autorizaciones>autorizacion"`
}

// ── Operaciones ───────────────────────────────────────────────────────────────

// Submit llama a validarComprobante con el XML firmado.
func (c *SOAPClient) Submit(ctx context.Context, env sri.Environment, signedXML []byte) (*sri.ReceptionResponse, error) {
	ep, err := c.endpoint(env)
	if err != nil {
		return nil, err
	}
	body := &validarComprobanteBody{XML: base64.StdEncoding.EncodeToString(signedXML)}
	resp, err := c.call(ctx, ep.Reception, nsRecepcion, body)
	if err != nil {
		return nil, err
	}
	if resp.Reception == nil {
		return nil, fmt.Errorf("soap: respuesta de recepción vacía o inesperada")
	}

	out := &sri.ReceptionResponse{Status: strings.TrimSpace(resp.Reception.Estado)}
	for _, cmp := range resp.Reception.Comprobantes {
		out.Documents = append(out.Documents, sri.ReceivedDocument{
			AccessKey: strings.TrimSpace(cmp.ClaveAcceso),
			Messages:  toMessages(cmp.Mensajes),
		})
	}
	return out, nil
}

// Authorize llama a autorizacionComprobante con la clave de acceso.
func (c *SOAPClient) Authorize(ctx context.Context, env sri.Environment, accessKey string) (*sri.AuthorizationResponse, error) {
	ep, err := c.endpoint(env)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, ep.Authorization, nsAutorizacion, &autorizacionComprobanteBody{AccessKey: accessKey})
	if err != nil {
		return nil, err
	}
	if resp.Authorization == nil {
		return nil, fmt.Errorf("soap: respuesta de autorización vacía o inesperada")
	}

	r := resp.Authorization
	out := &sri.AuthorizationResponse{QueriedKey: strings.TrimSpace(r.ClaveAccesoConsultada)}
	if n, err := strconv.Atoi(strings.TrimSpace(r.NumeroComprobantes)); err == nil {
		out.DocumentCount = n
	} else {
		out.DocumentCount = len(r.Autorizaciones)
	}
	for _, a := range r.Autorizaciones {
		date, _ := parseAuthorizationDate(a.FechaAutorizacion)
		out.Authorizations = append(out.Authorizations, sri.Authorization{
			State:          strings.TrimSpace(a.Estado),
			Number:         strings.TrimSpace(a.NumeroAutorizacion),
			Date:           date,
			Environment:    strings.TrimSpace(a.Ambiente),
			SignedDocument: a.Comprobante,
			Messages:       toMessages(a.Mensajes),
		})
	}
	return out, nil
}

func (c *SOAPClient) endpoint(env sri.Environment) (Endpoints, error) {
	ep, ok := c.endpoints[env]
	if !ok {
		return Endpoints{}, fmt.Errorf("soap: ambiente desconocido %q (usar 'test' o 'production')", env)
	}
	return ep, nil
}

// call envía el envelope y decodifica el Body. Un SOAP Fault o un HTTP no 2xx sin
// cuerpo válido se reportan como error: el SRI no respondió a la operación.
func (c *SOAPClient) call(ctx context.Context, url, ns string, content interface{}) (*soapResponseBody, error) {
	envelope := soapEnvelope{XmlnsS: soapNS, XmlnsEc: ns, Body: soapBody{Content: content}}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("soap: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("soap: leer respuesta: %w", err)
	}

	var env soapResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("soap: HTTP %d, respuesta no parseable: %w", resp.StatusCode, err)
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("soap: fault [%s]: %s", env.Body.Fault.FaultCode, env.Body.Fault.FaultString)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("soap: HTTP %d", resp.StatusCode)
	}
	return &env.Body, nil
}

func toMessages(in []mensajeXML) []sri.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]sri.Message, 0, len(in))
	for _, m := range in {
		out = append(out, sri.Message{
			Identifier: strings.TrimSpace(m.Identificador),
			Message:    strings.TrimSpace(m.Mensaje),
			Type:       strings.TrimSpace(m.Tipo),
			Extra:      strings.TrimSpace(m.InformacionAdicional),
		})
	}
	return out
}

// Formatos observados en fechaAutorizacion según la versión del WS.
var authorizationDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-07:00",
	"02/01/2006 15:04:05",
}

// ecuador es UTC-5 sin horario de verano.
var ecuador = time.FixedZone("ECT", -5*60*60)

func parseAuthorizationDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range authorizationDateLayouts {
		if t, err := time.ParseInLocation(layout, s, ecuador); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("soap: fecha de autorización no reconocida %q", s)
}

var _ sri.Authority = (*SOAPClient)(nil)
