package signer

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrCertNotFound indica que no hay certificado para (taxID, ownerID).
var ErrCertNotFound = errors.New("firma: certificado no registrado")

// CertStore guarda certificados de firma por (RUC, propietario). Con dir vacío
// vive solo en memoria; con dir los persiste como PEM (0600) y los recarga al
// arrancar, de modo que la contraseña del .p12 no se guarda.
type CertStore struct {
	dir   string
	mu    sync.RWMutex
	certs map[string]tls.Certificate
}

// NewCertStore abre (o crea) el almacén en dir y carga los certificados existentes.
func NewCertStore(dir string) (*CertStore, error) {
	s := &CertStore{dir: dir, certs: make(map[string]tls.Certificate)}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("almacén de certificados: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("leer %s: %w", f, err)
		}
		cert, err := ParseCertificate(data, "")
		if err != nil {
			return nil, fmt.Errorf("cargar %s: %w", f, err)
		}
		key := filepath.Base(f)
		s.certs[key[:len(key)-len(".pem")]] = cert
	}
	return s, nil
}

// Add registra (o reemplaza) el certificado. data puede ser PKCS#12 o PEM.
func (s *CertStore) Add(taxID, ownerID string, data []byte, password string) error {
	key, err := storeKey(taxID, ownerID)
	if err != nil {
		return err
	}
	cert, err := ParseCertificate(data, password)
	if err != nil {
		return err
	}
	if _, ok := cert.PrivateKey.(*rsa.PrivateKey); !ok {
		return ErrUnsupportedKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		bundle, err := encodePEM(cert)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(s.dir, key+".pem"), bundle, 0o600); err != nil {
			return fmt.Errorf("guardar certificado: %w", err)
		}
	}
	s.certs[key] = cert
	return nil
}

// Has indica si hay certificado para (taxID, ownerID).
func (s *CertStore) Has(taxID, ownerID string) bool {
	key, err := storeKey(taxID, ownerID)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.certs[key]
	return ok
}

// Get devuelve el certificado o ErrCertNotFound.
func (s *CertStore) Get(taxID, ownerID string) (tls.Certificate, error) {
	key, err := storeKey(taxID, ownerID)
	if err != nil {
		return tls.Certificate{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[key]
	if !ok {
		return tls.Certificate{}, fmt.Errorf("%w: %s/%s", ErrCertNotFound, taxID, ownerID)
	}
	return cert, nil
}

// Delete elimina el certificado. Devuelve ErrCertNotFound si no existía.
func (s *CertStore) Delete(taxID, ownerID string) error {
	key, err := storeKey(taxID, ownerID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[key]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrCertNotFound, taxID, ownerID)
	}
	if s.dir != "" {
		if err := os.Remove(filepath.Join(s.dir, key+".pem")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("eliminar certificado: %w", err)
		}
	}
	delete(s.certs, key)
	return nil
}

// storeKey arma el nombre de archivo; solo admite [A-Za-z0-9_-] para no salir de dir.
func storeKey(taxID, ownerID string) (string, error) {
	for _, part := range []string{taxID, ownerID} {
		if part == "" {
			return "", fmt.Errorf("firma: taxID y ownerID son obligatorios")
		}
		for _, r := range part {
			ok := r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			if !ok {
				return "", fmt.Errorf("firma: identificador inválido %q", part)
			}
		}
	}
	return taxID + "__" + ownerID, nil
}

func encodePEM(cert tls.Certificate) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("serializar llave: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	return append(out, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})...), nil
}
