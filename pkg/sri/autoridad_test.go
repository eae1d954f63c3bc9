package sri_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

const signedFactura = `<factura id="comprobante"><infoTributaria><claveAcceso>1503202401179132163400110010020000000011234567816</claveAcceso></infoTributaria>` +
	`<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><ds:SignatureValue Id="SignatureValue-1">QUJD
REVG</ds:SignatureValue></ds:Signature></factura>`

func TestAuthorization_Matches(t *testing.T) {
	cases := []struct {
		name     string
		reported string
		want     bool
	}{
		{"sin comprobante en la respuesta", "", true},
		{"mismo documento", signedFactura, true},
		{"reformateado por el SRI", "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n" +
			`<factura id="comprobante"><ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#">` +
			`<ds:SignatureValue Id="SignatureValue-1">QUJDREVG</ds:SignatureValue></ds:Signature></factura>`, true},
		{"firma de otro documento", `<factura id="comprobante"><ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#">` +
			`<ds:SignatureValue>WFla</ds:SignatureValue></ds:Signature></factura>`, false},
		{"documento sin firma", `<factura id="comprobante"/>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := sri.Authorization{State: sri.AuthorizationAuthorized, SignedDocument: tc.reported}
			assert.Equal(t, tc.want, a.Matches(signedFactura))
		})
	}
}
