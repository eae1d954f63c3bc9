package signer

import (
	"context"
	"fmt"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// LocalService firma en el mismo proceso con los certificados del CertStore.
// Implementa billing.SigningService (SIGNER_MODE=local) y es también el backend
// del demonio de firma.
type LocalService struct {
	store  *CertStore
	signer sri.Signer
}

// NewLocalService crea el servicio. signer nil usa XAdESSigner.
func NewLocalService(store *CertStore, signer sri.Signer) *LocalService {
	if signer == nil {
		signer = NewXAdESSigner()
	}
	return &LocalService{store: store, signer: signer}
}

// Store expone el almacén (lo usa el demonio para add_cert/has_cert/del_cert).
func (s *LocalService) Store() *CertStore { return s.store }

// Sign firma xml con el certificado de (taxID, ownerID). Certificado ausente o
// firma imposible se reportan como domain.ErrSigningFailed.
func (s *LocalService) Sign(ctx context.Context, taxID, ownerID string, xml []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewTransportFailure("sign", err)
	}
	cert, err := s.store.Get(taxID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}
	signed, err := s.signer.Sign(xml, cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}
	return signed, nil
}
