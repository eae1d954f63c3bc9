// Package sri contiene validaciones de dominio del contenido de un comprobante antes
// de aceptarlo para envío. Utiliza catálogos y reglas de pkg/sri.
package sri

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// ErrInvalidComprobante agrupa errores de validación de contenido.
var ErrInvalidComprobante = errors.New("comprobante inválido para el SRI")

// ValidateComprobante valida emisor, comprador, líneas y totales.
// Devuelve todos los problemas encontrados unidos con errors.Join.
func ValidateComprobante(company *entity.Company, c *entity.Comprobante) error {
	if company == nil || c == nil {
		return fmt.Errorf("%w: empresa o comprobante nulo", ErrInvalidComprobante)
	}
	var errs []error

	if err := sri.IsRuc(company.RUC); err != nil {
		errs = append(errs, fmt.Errorf("emisor: %w", err))
	}
	if !c.DocumentType.Valid() {
		errs = append(errs, fmt.Errorf("tipo de comprobante %q", c.DocumentType))
	}
	if !c.Environment.Valid() {
		errs = append(errs, fmt.Errorf("ambiente %q", c.Environment))
	}
	if c.Date.IsZero() {
		errs = append(errs, errors.New("fecha de emisión obligatoria"))
	}

	switch c.Buyer.IDType {
	case sri.IdentificacionRUC:
		if err := sri.IsRuc(c.Buyer.ID); err != nil {
			errs = append(errs, fmt.Errorf("comprador: %w", err))
		}
	case sri.IdentificacionCedula:
		if err := sri.IsCedula(c.Buyer.ID); err != nil {
			errs = append(errs, fmt.Errorf("comprador: %w", err))
		}
	case sri.IdentificacionConsumidorFinal:
		if c.Buyer.ID != sri.RUCConsumidorFinal {
			errs = append(errs, fmt.Errorf("comprador: consumidor final debe usar %s", sri.RUCConsumidorFinal))
		}
	case sri.IdentificacionPasaporte, sri.IdentificacionExterior:
		if c.Buyer.ID == "" {
			errs = append(errs, errors.New("comprador: identificación obligatoria"))
		}
	default:
		errs = append(errs, fmt.Errorf("comprador: tipo de identificación %q", c.Buyer.IDType))
	}

	if len(c.Lines) == 0 {
		errs = append(errs, errors.New("el comprobante debe tener al menos un detalle"))
	} else {
		sumSubtotal, sumIVA := decimal.Zero, decimal.Zero
		for _, l := range c.Lines {
			if !l.Quantity.IsPositive() {
				errs = append(errs, fmt.Errorf("línea %d: cantidad debe ser mayor que cero", l.Position))
			}
			if l.UnitPrice.IsNegative() || l.Discount.IsNegative() {
				errs = append(errs, fmt.Errorf("línea %d: precio y descuento no pueden ser negativos", l.Position))
			}
			sumSubtotal = sumSubtotal.Add(l.Subtotal)
			sumIVA = sumIVA.Add(l.IVA())
		}
		if !c.Subtotal.Equal(sumSubtotal.Round(2)) {
			errs = append(errs, fmt.Errorf("subtotal (%s) no coincide con la suma de líneas (%s)", c.Subtotal, sumSubtotal.Round(2)))
		}
		if !c.IVATotal.Equal(sumIVA) {
			errs = append(errs, fmt.Errorf("IVA (%s) no coincide con la suma de impuestos por línea (%s)", c.IVATotal, sumIVA))
		}
		if expected := sumSubtotal.Add(sumIVA).Round(2); !c.Total.Equal(expected) {
			errs = append(errs, fmt.Errorf("total (%s) no coincide con subtotal + IVA (%s)", c.Total, expected))
		}
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidComprobante}, errs...)...)
	}
	return nil
}
