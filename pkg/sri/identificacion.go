package sri

import (
	"errors"
	"fmt"
)

// Motivos de rechazo de un número de identificación.
var (
	ErrInvalidLength     = errors.New("longitud inválida")
	ErrInvalidProvince   = errors.New("código de provincia inválido")
	ErrInvalidThirdDigit = errors.New("tercer dígito inválido")
	ErrInvalidSuffix     = errors.New("el RUC debe terminar en 001")
	ErrInvalidChecksum   = errors.New("dígito verificador inválido")
)

// ValidationError describe por qué un valor no es una identificación válida.
// Reason es uno de los Err* de este paquete; errors.Is funciona contra ellos.
type ValidationError struct {
	Field  string // "cedula" o "ruc"
	Value  string
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sri: %s %q: %v", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// Coeficientes fijados por el SRI / Registro Civil.
var (
	cedulaCoefficients = [9]int{2, 1, 2, 1, 2, 1, 2, 1, 2}
	rucPublicoCoefs    = [8]int{3, 2, 7, 6, 5, 4, 3, 2}
	rucSociedadCoefs   = [9]int{4, 3, 2, 7, 6, 5, 4, 3, 2}
)

const (
	provinceMin = 1
	provinceMax = 22
)

// RUC genéricos de consumidor final, siempre aceptados.
const (
	RUCConsumidorFinal       = "9999999999999"
	RUCConsumidorFinalSufijo = "9999999999001"
)

// IsCedula valida una cédula ecuatoriana de 10 dígitos (módulo 10).
func IsCedula(value string) error {
	d, ok := digitsOf(value)
	if !ok || len(d) != 10 {
		return &ValidationError{Field: "cedula", Value: value, Reason: ErrInvalidLength}
	}
	if !validProvince(d) {
		return &ValidationError{Field: "cedula", Value: value, Reason: ErrInvalidProvince}
	}
	if d[2] > 5 {
		return &ValidationError{Field: "cedula", Value: value, Reason: ErrInvalidThirdDigit}
	}
	if CedulaVerifier(d[:9]) != d[9] {
		return &ValidationError{Field: "cedula", Value: value, Reason: ErrInvalidChecksum}
	}
	return nil
}

// CedulaVerifier calcula el dígito verificador de los 9 primeros dígitos de una cédula.
// Los productos de dos cifras se pliegan sumando sus dígitos.
func CedulaVerifier(first9 []int) int {
	var sum int
	for i, c := range cedulaCoefficients {
		p := first9[i] * c
		if p >= 10 {
			p = p/10 + p%10
		}
		sum += p
	}
	return (10 - sum%10) % 10
}

// IsRuc valida un RUC de 13 dígitos. Según el tercer dígito se trata de persona
// natural (0-5, cédula + 001), institución pública (6) o sociedad (9).
func IsRuc(value string) error {
	d, ok := digitsOf(value)
	if !ok || len(d) != 13 {
		return &ValidationError{Field: "ruc", Value: value, Reason: ErrInvalidLength}
	}
	if value == RUCConsumidorFinal || value == RUCConsumidorFinalSufijo {
		return nil
	}
	if value[10:] != "001" {
		return &ValidationError{Field: "ruc", Value: value, Reason: ErrInvalidSuffix}
	}
	if !validProvince(d) {
		return &ValidationError{Field: "ruc", Value: value, Reason: ErrInvalidProvince}
	}

	switch tipo := d[2]; {
	case tipo <= 5:
		if err := IsCedula(value[:10]); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return &ValidationError{Field: "ruc", Value: value, Reason: ve.Reason}
			}
			return err
		}
		return nil
	case tipo == 6:
		if Modulo11(d[:8], rucPublicoCoefs[:]) != d[8] {
			return &ValidationError{Field: "ruc", Value: value, Reason: ErrInvalidChecksum}
		}
		return nil
	case tipo == 9:
		if Modulo11(d[:9], rucSociedadCoefs[:]) != d[9] {
			return &ValidationError{Field: "ruc", Value: value, Reason: ErrInvalidChecksum}
		}
		return nil
	default:
		return &ValidationError{Field: "ruc", Value: value, Reason: ErrInvalidThirdDigit}
	}
}

// Modulo11 aplica la regla módulo 11 del SRI: rem = Σ d[i]*coef[i] mod 11;
// verificador = 0 si rem == 0, si no 11 - rem. Un resultado de 10 nunca coincide
// con un dígito, por lo que esos números se rechazan.
func Modulo11(digits, coefs []int) int {
	var sum int
	for i := range coefs {
		sum += digits[i] * coefs[i]
	}
	rem := sum % 11
	if rem == 0 {
		return 0
	}
	return 11 - rem
}

func validProvince(d []int) bool {
	p := d[0]*10 + d[1]
	return p >= provinceMin && p <= provinceMax
}

// digitsOf convierte s a dígitos; ok es false si hay cualquier carácter no numérico.
func digitsOf(s string) ([]int, bool) {
	out := make([]int, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return nil, false
		}
		out = append(out, int(c-'0'))
	}
	return out, true
}

// IdentificationTypeFor devuelve el código de tipo de identificación del comprador
// que el SRI espera en el XML (tabla 6 de la ficha técnica).
func IdentificationTypeFor(value string) string {
	switch {
	case value == RUCConsumidorFinal:
		return IdentificacionConsumidorFinal
	case len(value) == 13 && IsRuc(value) == nil:
		return IdentificacionRUC
	case len(value) == 10 && IsCedula(value) == nil:
		return IdentificacionCedula
	default:
		return IdentificacionPasaporte
	}
}
