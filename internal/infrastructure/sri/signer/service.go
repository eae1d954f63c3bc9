// Firma XAdES-BES enveloped de comprobantes electrónicos SRI.
// Agrega <ds:Signature> como último hijo del elemento raíz.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// XAdESSigner implementa sri.Signer.
type XAdESSigner struct {
	now   func() time.Time
	newID func() string
}

// NewXAdESSigner crea el firmador.
func NewXAdESSigner() *XAdESSigner {
	return &XAdESSigner{
		now:   time.Now,
		newID: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
}

// signatureIDs agrupa los Id cruzados entre nodos de una firma.
type signatureIDs struct {
	signature, signedInfo, signedProps, signedPropsRef, certificate, reference, object, signatureValue string
}

func (s *XAdESSigner) ids() signatureIDs {
	n := s.newID()
	return signatureIDs{
		signature:      "Signature-" + n,
		signedInfo:     "Signature-" + n + "-SignedInfo",
		signedProps:    "Signature-" + n + "-SignedProperties",
		signedPropsRef: "SignedPropertiesID-" + n,
		certificate:    "Certificate-" + n,
		reference:      "Reference-ID-" + n,
		object:         "Signature-" + n + "-Object",
		signatureValue: "SignatureValue-" + n,
	}
}

// Sign firma el comprobante. El nodo raíz debe tener id="comprobante".
func (s *XAdESSigner) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("firma: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok || len(cert.Certificate) == 0 {
		return nil, ErrUnsupportedKey
	}
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, fmt.Errorf("firma: parsear certificado: %w", err)
		}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("firma: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("firma: documento sin raíz")
	}
	if root.SelectAttrValue("id", "") != ComprobanteElementID {
		return nil, fmt.Errorf("firma: el nodo raíz debe tener id=%q", ComprobanteElementID)
	}

	ids := s.ids()

	// 1) Digest del comprobante (C14N; la transformación enveloped lo deja sin firma).
	docDigest, err := digest(xmlBytes)
	if err != nil {
		return nil, fmt.Errorf("firma: canonicalizar comprobante: %w", err)
	}

	// 2) KeyInfo y SignedProperties: se digieren con los namespaces de ds:Signature.
	keyInfo := buildKeyInfo(ids, leaf, &priv.PublicKey)
	keyInfoDigest, err := digest([]byte(withNamespaces(keyInfo)))
	if err != nil {
		return nil, fmt.Errorf("firma: canonicalizar KeyInfo: %w", err)
	}
	signedProps := buildSignedProperties(ids, leaf, s.now())
	signedPropsDigest, err := digest([]byte(withNamespaces(signedProps)))
	if err != nil {
		return nil, fmt.Errorf("firma: canonicalizar SignedProperties: %w", err)
	}

	// 3) SignedInfo y SignatureValue (RSA-SHA1).
	signedInfo := buildSignedInfo(ids, docDigest, keyInfoDigest, signedPropsDigest)
	canonicalSignedInfo, err := canonicalize([]byte(withNamespaces(signedInfo)))
	if err != nil {
		return nil, fmt.Errorf("firma: canonicalizar SignedInfo: %w", err)
	}
	hash := sha1.Sum(canonicalSignedInfo)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, hash[:])
	if err != nil {
		return nil, fmt.Errorf("firma: firmar SignedInfo: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" xmlns:etsi="` + NamespaceXAdES + `" Id="` + ids.signature + `">`)
	sb.WriteString(signedInfo)
	sb.WriteString(`<ds:SignatureValue Id="` + ids.signatureValue + `">` + base64.StdEncoding.EncodeToString(sig) + `</ds:SignatureValue>`)
	sb.WriteString(keyInfo)
	sb.WriteString(`<ds:Object Id="` + ids.object + `"><etsi:QualifyingProperties Target="#` + ids.signature + `">`)
	sb.WriteString(signedProps)
	sb.WriteString(`</etsi:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)

	// 4) Inyectar como último hijo del comprobante.
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(sb.String()); err != nil {
		return nil, fmt.Errorf("firma: parsear Signature: %w", err)
	}
	root.AddChild(sigDoc.Root())

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("firma: serializar: %w", err)
	}
	return out, nil
}

func buildSignedInfo(ids signatureIDs, docDigest, keyInfoDigest, signedPropsDigest string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo Id="` + ids.signedInfo + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"></ds:CanonicalizationMethod>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA1 + `"></ds:SignatureMethod>`)
	writeReference(&sb, ` Id="`+ids.signedPropsRef+`" Type="`+TypeSignedProps+`" URI="#`+ids.signedProps+`"`, "", signedPropsDigest)
	writeReference(&sb, ` URI="#`+ids.certificate+`"`, "", keyInfoDigest)
	writeReference(&sb, ` Id="`+ids.reference+`" URI="#`+ComprobanteElementID+`"`,
		`<ds:Transforms><ds:Transform Algorithm="`+TransformEnveloped+`"></ds:Transform></ds:Transforms>`, docDigest)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func writeReference(sb *strings.Builder, attrs, transforms, digestB64 string) {
	sb.WriteString(`<ds:Reference` + attrs + `>`)
	sb.WriteString(transforms)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA1 + `"></ds:DigestMethod>`)
	sb.WriteString(`<ds:DigestValue>` + digestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
}

func buildKeyInfo(ids signatureIDs, leaf *x509.Certificate, pub *rsa.PublicKey) string {
	var sb strings.Builder
	sb.WriteString(`<ds:KeyInfo Id="` + ids.certificate + `">`)
	sb.WriteString(`<ds:X509Data><ds:X509Certificate>` + base64.StdEncoding.EncodeToString(leaf.Raw) + `</ds:X509Certificate></ds:X509Data>`)
	sb.WriteString(`<ds:KeyValue><ds:RSAKeyValue>`)
	sb.WriteString(`<ds:Modulus>` + base64.StdEncoding.EncodeToString(pub.N.Bytes()) + `</ds:Modulus>`)
	sb.WriteString(`<ds:Exponent>` + base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()) + `</ds:Exponent>`)
	sb.WriteString(`</ds:RSAKeyValue></ds:KeyValue>`)
	sb.WriteString(`</ds:KeyInfo>`)
	return sb.String()
}

func buildSignedProperties(ids signatureIDs, leaf *x509.Certificate, at time.Time) string {
	certDigest, issuer, serial := CertDigestAndIssuerSerial(leaf)
	var sb strings.Builder
	sb.WriteString(`<etsi:SignedProperties Id="` + ids.signedProps + `">`)
	sb.WriteString(`<etsi:SignedSignatureProperties>`)
	sb.WriteString(`<etsi:SigningTime>` + at.Format("2006-01-02T15:04:05-07:00") + `</etsi:SigningTime>`)
	sb.WriteString(`<etsi:SigningCertificate><etsi:Cert><etsi:CertDigest>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA1 + `"></ds:DigestMethod>`)
	sb.WriteString(`<ds:DigestValue>` + certDigest + `</ds:DigestValue></etsi:CertDigest>`)
	sb.WriteString(`<etsi:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuer) + `</ds:X509IssuerName>`)
	sb.WriteString(`<ds:X509SerialNumber>` + serial + `</ds:X509SerialNumber></etsi:IssuerSerial>`)
	sb.WriteString(`</etsi:Cert></etsi:SigningCertificate>`)
	sb.WriteString(`</etsi:SignedSignatureProperties>`)
	sb.WriteString(`<etsi:SignedDataObjectProperties>`)
	sb.WriteString(`<etsi:DataObjectFormat ObjectReference="#` + ids.reference + `">`)
	sb.WriteString(`<etsi:Description>contenido comprobante</etsi:Description><etsi:MimeType>text/xml</etsi:MimeType>`)
	sb.WriteString(`</etsi:DataObjectFormat></etsi:SignedDataObjectProperties>`)
	sb.WriteString(`</etsi:SignedProperties>`)
	return sb.String()
}

// withNamespaces declara en el fragmento los namespaces que hereda de ds:Signature,
// como los vería un verificador al canonicalizar el subconjunto.
func withNamespaces(fragment string) string {
	i := strings.IndexAny(fragment, " >")
	if i < 0 {
		return fragment
	}
	return fragment[:i] + ` xmlns:ds="` + NamespaceDS + `" xmlns:etsi="` + NamespaceXAdES + `"` + fragment[i:]
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func digest(data []byte) (string, error) {
	canonical, err := canonicalize(data)
	if err != nil {
		return "", err
	}
	h := sha1.Sum(canonical)
	return base64.StdEncoding.EncodeToString(h[:]), nil
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

var _ sri.Signer = (*XAdESSigner)(nil)
