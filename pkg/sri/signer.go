// Firma digital XAdES-BES de comprobantes electrónicos (SRI).

package sri

import "crypto/tls"

// Signer firma el XML de un comprobante y devuelve el XML con ds:Signature
// como último hijo del elemento raíz (firma enveloped).
type Signer interface {
	Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error)
}
