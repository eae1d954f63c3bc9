// Clave de acceso de 49 dígitos (ficha técnica SRI, esquema offline).
// 48 dígitos de datos + 1 dígito verificador módulo 11.

package sri

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccessKeyLength es la longitud total de una clave de acceso.
const AccessKeyLength = 49

const accessKeyDateLayout = "02012006" // ddmmaaaa

// ErrInvalidAccessKey agrupa los errores de construcción o verificación de claves.
var ErrInvalidAccessKey = errors.New("clave de acceso inválida")

// AccessKeyParams contiene los campos tipados de la clave, en el orden del SRI.
type AccessKeyParams struct {
	Date          time.Time    // Fecha de emisión
	DocumentType  DocumentType // 01 factura, 04 nota de crédito...
	RUC           string       // RUC del emisor, 13 dígitos
	Environment   Environment  // test → 1, production → 2
	Establishment string       // Código de establecimiento, 3 dígitos
	EmissionPoint string       // Código de punto de emisión, 3 dígitos
	Sequence      int64        // Secuencial, se rellena a 9 dígitos
	NumericCode   string       // Código numérico, 8 dígitos (ver NumericCodeFor)
	EmissionType  EmissionType // 1 normal, 2 contingencia
}

// AccessKeyGenerator construye claves de acceso. No tiene estado.
type AccessKeyGenerator struct{}

// NewAccessKeyGenerator crea el generador.
func NewAccessKeyGenerator() *AccessKeyGenerator {
	return &AccessKeyGenerator{}
}

// Generate devuelve la clave de 49 dígitos. Orden estricto:
// fecha(8) + tipo(2) + ruc(13) + ambiente(1) + estab(3) + ptoEmi(3) + secuencial(9) + código(8) + tipoEmisión(1) + verificador(1).
func (g *AccessKeyGenerator) Generate(p *AccessKeyParams) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: parámetros obligatorios", ErrInvalidAccessKey)
	}
	var errs []error
	if p.Date.IsZero() {
		errs = append(errs, errors.New("fecha de emisión obligatoria"))
	}
	if !p.DocumentType.Valid() {
		errs = append(errs, fmt.Errorf("tipo de comprobante %q", p.DocumentType))
	}
	if !isDigits(p.RUC, 13) {
		errs = append(errs, fmt.Errorf("RUC %q debe tener 13 dígitos", p.RUC))
	}
	if !p.Environment.Valid() {
		errs = append(errs, fmt.Errorf("ambiente %q", p.Environment))
	}
	if !isDigits(p.Establishment, 3) {
		errs = append(errs, fmt.Errorf("establecimiento %q debe tener 3 dígitos", p.Establishment))
	}
	if !isDigits(p.EmissionPoint, 3) {
		errs = append(errs, fmt.Errorf("punto de emisión %q debe tener 3 dígitos", p.EmissionPoint))
	}
	if p.Sequence < 1 || p.Sequence > 999_999_999 {
		errs = append(errs, fmt.Errorf("secuencial %d fuera de rango", p.Sequence))
	}
	if !isDigits(p.NumericCode, 8) {
		errs = append(errs, fmt.Errorf("código numérico %q debe tener 8 dígitos", p.NumericCode))
	}
	if !p.EmissionType.Valid() {
		errs = append(errs, fmt.Errorf("tipo de emisión %q", p.EmissionType))
	}
	if len(errs) > 0 {
		return "", errors.Join(append([]error{ErrInvalidAccessKey}, errs...)...)
	}

	var b strings.Builder
	b.Grow(AccessKeyLength)
	b.WriteString(p.Date.Format(accessKeyDateLayout))
	b.WriteString(string(p.DocumentType))
	b.WriteString(p.RUC)
	b.WriteString(p.Environment.Code())
	b.WriteString(p.Establishment)
	b.WriteString(p.EmissionPoint)
	b.WriteString(FormatSequence(p.Sequence))
	b.WriteString(p.NumericCode)
	b.WriteString(string(p.EmissionType))

	first48 := b.String()
	b.WriteByte(byte('0' + AccessKeyCheckDigit(first48)))
	return b.String(), nil
}

// AccessKeyCheckDigit calcula el verificador módulo 11 sobre los 48 dígitos,
// de derecha a izquierda con coeficientes 2,3,4,5,6,7 cíclicos.
// 11 se representa como 0 y 10 como 1.
func AccessKeyCheckDigit(first48 string) int {
	var sum int
	coef := 2
	for i := len(first48) - 1; i >= 0; i-- {
		sum += int(first48[i]-'0') * coef
		coef++
		if coef > 7 {
			coef = 2
		}
	}
	v := 11 - sum%11
	switch v {
	case 11:
		return 0
	case 10:
		return 1
	default:
		return v
	}
}

// FormatSequence rellena el secuencial a 9 dígitos.
func FormatSequence(seq int64) string {
	return fmt.Sprintf("%09d", seq)
}

// NumericCodeFor deriva el código numérico de 8 dígitos a partir de datos propios
// del documento (su ID y, al reintentar, la clave del intento anterior). Dos
// documentos con el mismo secuencial obtienen claves distintas.
func NumericCodeFor(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%08d", binary.BigEndian.Uint64(sum[:8])%100000000)
}

// AccessKey es la descomposición de una clave ya emitida.
type AccessKey struct {
	Raw           string
	Date          time.Time
	DocumentType  DocumentType
	RUC           string
	Environment   Environment
	Establishment string
	EmissionPoint string
	Sequence      int64
	NumericCode   string
	EmissionType  EmissionType
	CheckDigit    int
}

// ParseAccessKey verifica el dígito verificador y separa los campos de la clave.
func ParseAccessKey(key string) (*AccessKey, error) {
	if !isDigits(key, AccessKeyLength) {
		return nil, fmt.Errorf("%w: se esperaban %d dígitos", ErrInvalidAccessKey, AccessKeyLength)
	}
	check := int(key[48] - '0')
	if AccessKeyCheckDigit(key[:48]) != check {
		return nil, fmt.Errorf("%w: dígito verificador", ErrInvalidAccessKey)
	}
	date, err := time.Parse(accessKeyDateLayout, key[0:8])
	if err != nil {
		return nil, fmt.Errorf("%w: fecha: %v", ErrInvalidAccessKey, err)
	}
	env, err := ParseEnvironment(key[23:24])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
	}
	seq, _ := strconv.ParseInt(key[30:39], 10, 64)
	return &AccessKey{
		Raw:           key,
		Date:          date,
		DocumentType:  DocumentType(key[8:10]),
		RUC:           key[10:23],
		Environment:   env,
		Establishment: key[24:27],
		EmissionPoint: key[27:30],
		Sequence:      seq,
		NumericCode:   key[39:47],
		EmissionType:  EmissionType(key[47:48]),
		CheckDigit:    check,
	}, nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, ok := digitsOf(s)
	return ok
}
