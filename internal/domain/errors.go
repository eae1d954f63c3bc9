package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound      = errors.New("recurso no encontrado")
	ErrInvalidInput  = errors.New("entrada inválida")
	ErrDuplicate     = errors.New("recurso duplicado")
	ErrUnauthorized  = errors.New("no autorizado")
	ErrForbidden     = errors.New("acceso denegado")
	ErrConflict      = errors.New("conflicto con el estado actual")
	ErrSigningFailed = errors.New("el servicio de firma rechazó el documento")

	// ErrSequenceConflict indica que otro proceso avanzó el secuencial entre peek y commit.
	ErrSequenceConflict = errors.New("el secuencial del punto de emisión cambió durante el envío")
)

// PreconditionViolation es un error del llamador: la operación se invocó sobre un
// comprobante que no cumple su guarda. No debe reintentarse.
type PreconditionViolation struct {
	Op     string // accept, send_to_sri, validate_in_sri, check_if_annulled_in_sri
	Status string // estado actual del comprobante
	Reason string
}

func (e *PreconditionViolation) Error() string {
	return fmt.Sprintf("%s: precondición no cumplida (estado %s): %s", e.Op, e.Status, e.Reason)
}

// Is permite errors.Is(err, ErrConflict).
func (e *PreconditionViolation) Is(target error) bool { return target == ErrConflict }

// TransportFailure envuelve un fallo de red o timeout con el SRI o el firmador.
// Es reintentable y nunca cambia el estado persistido.
type TransportFailure struct {
	Op  string
	Err error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("%s: fallo de transporte: %v", e.Op, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

// Temporary indica que el llamador puede reintentar más tarde.
func (e *TransportFailure) Temporary() bool { return true }

// NewTransportFailure construye un TransportFailure; devuelve nil si err es nil.
func NewTransportFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var tf *TransportFailure
	if errors.As(err, &tf) {
		return err
	}
	return &TransportFailure{Op: op, Err: err}
}

// IsTransportFailure indica si err (o alguno que envuelve) es un TransportFailure.
func IsTransportFailure(err error) bool {
	var tf *TransportFailure
	return errors.As(err, &tf)
}

// IsPreconditionViolation indica si err es un PreconditionViolation.
func IsPreconditionViolation(err error) bool {
	var pv *PreconditionViolation
	return errors.As(err, &pv)
}
