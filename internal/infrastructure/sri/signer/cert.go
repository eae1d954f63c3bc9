// Carga de certificados de firma desde PKCS#12 (.p12 emitido por la entidad
// certificadora) o PEM.

package signer

import (
	"bytes"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// ErrUnsupportedKey indica un certificado sin llave privada RSA.
var ErrUnsupportedKey = errors.New("firma: el certificado debe incluir llave privada RSA")

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	return ParseCertificate(data, password)
}

// ParseCertificate acepta un PKCS#12 o un bundle PEM (certificado y llave en el
// mismo bloque de bytes). password solo aplica a PKCS#12.
func ParseCertificate(data []byte, password string) (tls.Certificate, error) {
	if bytes.Contains(data, []byte("-----BEGIN")) {
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decodificar PEM: %w", err)
		}
		if cert.Leaf == nil {
			if cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
				return tls.Certificate{}, fmt.Errorf("parsear certificado: %w", err)
			}
		}
		return cert, nil
	}

	priv, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	// pkcs12.Decode devuelve solo el certificado hoja, suficiente para el SRI.
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

// CertDigestAndIssuerSerial devuelve el digest SHA-1 del certificado (Base64), el
// emisor y el serial en decimal, como los pide XAdES-BES.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64, issuerName, serial string) {
	h := sha1.Sum(cert.Raw)
	return base64.StdEncoding.EncodeToString(h[:]), cert.Issuer.String(), cert.SerialNumber.String()
}
