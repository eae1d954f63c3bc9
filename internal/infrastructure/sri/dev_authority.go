package sri

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// DevAuthority simula el SRI en memoria para SRI_APP_ENV=dev: todo comprobante
// bien formado queda RECIBIDA y luego AUTORIZADO. No hace llamadas de red.
type DevAuthority struct {
	mu   sync.Mutex
	docs map[string]*devDocument
	now  func() time.Time
}

type devDocument struct {
	env       sri.Environment
	signedXML string
	at        time.Time
	annulled  bool
}

// NewDevAuthority crea la autoridad simulada.
func NewDevAuthority() *DevAuthority {
	return &DevAuthority{docs: make(map[string]*devDocument), now: time.Now}
}

// Submit registra el comprobante. Una clave ya registrada se devuelve como el SRI
// real: DEVUELTA con el mensaje 43.
func (d *DevAuthority) Submit(ctx context.Context, env sri.Environment, signedXML []byte) (*sri.ReceptionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := accessKeyFromXML(signedXML)
	if err != nil {
		return &sri.ReceptionResponse{
			Status: sri.ReceptionReturned,
			Documents: []sri.ReceivedDocument{{Messages: []sri.Message{{
				Identifier: "35", Message: "ARCHIVO NO CUMPLE ESTRUCTURA XML", Type: "ERROR", Extra: err.Error(),
			}}}},
		}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.docs[key]; ok {
		return &sri.ReceptionResponse{
			Status: sri.ReceptionReturned,
			Documents: []sri.ReceivedDocument{{AccessKey: key, Messages: []sri.Message{{
				Identifier: "43", Message: "CLAVE ACCESO REGISTRADA", Type: "ERROR",
			}}}},
		}, nil
	}
	d.docs[key] = &devDocument{env: env, signedXML: string(signedXML), at: d.now()}
	return &sri.ReceptionResponse{
		Status:    sri.ReceptionReceived,
		Documents: []sri.ReceivedDocument{{AccessKey: key}},
	}, nil
}

// Authorize devuelve AUTORIZADO para claves recibidas; cero comprobantes para las
// desconocidas o anuladas.
func (d *DevAuthority) Authorize(ctx context.Context, env sri.Environment, accessKey string) (*sri.AuthorizationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := &sri.AuthorizationResponse{QueriedKey: accessKey}
	doc, ok := d.docs[accessKey]
	if !ok || doc.annulled || doc.env != env {
		return out, nil
	}
	out.DocumentCount = 1
	out.Authorizations = []sri.Authorization{{
		State:          sri.AuthorizationAuthorized,
		Number:         accessKey,
		Date:           doc.at,
		Environment:    ambienteName(env),
		SignedDocument: doc.signedXML,
	}}
	return out, nil
}

// Annul marca la clave como anulada, como haría el contribuyente en el portal.
func (d *DevAuthority) Annul(accessKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[accessKey]
	if ok {
		doc.annulled = true
	}
	return ok
}

func accessKeyFromXML(signedXML []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return "", fmt.Errorf("XML inválido: %w", err)
	}
	el := doc.FindElement("//infoTributaria/claveAcceso")
	if el == nil {
		return "", fmt.Errorf("sin infoTributaria/claveAcceso")
	}
	if _, err := sri.ParseAccessKey(el.Text()); err != nil {
		return "", err
	}
	return el.Text(), nil
}

func ambienteName(env sri.Environment) string {
	if env == sri.EnvironmentProduction {
		return "PRODUCCIÓN"
	}
	return "PRUEBAS"
}

var _ sri.Authority = (*DevAuthority)(nil)
