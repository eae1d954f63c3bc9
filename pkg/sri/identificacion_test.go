package sri_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// ── Cédula ────────────────────────────────────────────────────────────────────

func TestIsCedula_Validas(t *testing.T) {
	for _, c := range []string{"1710034065", "1756760292"} {
		assert.NoError(t, sri.IsCedula(c), "la cédula %s debe ser válida", c)
	}
}

func TestIsCedula_BaseDeRUCSociedadNoEsCedula(t *testing.T) {
	err := sri.IsCedula("1791321634")
	require.Error(t, err)
	assert.ErrorIs(t, err, sri.ErrInvalidThirdDigit)
}

func TestIsCedula_Motivos(t *testing.T) {
	cases := []struct {
		name   string
		value  string
		reason error
	}{
		{"nueve dígitos", "173831153", sri.ErrInvalidLength},
		{"once dígitos", "17100340651", sri.ErrInvalidLength},
		{"no numérico", "313831153X", sri.ErrInvalidLength},
		{"vacío", "", sri.ErrInvalidLength},
		{"provincia 31", "3138311533", sri.ErrInvalidProvince},
		{"provincia 00", "0038311533", sri.ErrInvalidProvince},
		{"tercer dígito 7", "1778311533", sri.ErrInvalidThirdDigit},
		{"tercer dígito 8", "1788311533", sri.ErrInvalidThirdDigit},
		{"tercer dígito 9", "1798311533", sri.ErrInvalidThirdDigit},
		{"verificador", "1738331533", sri.ErrInvalidChecksum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := sri.IsCedula(tc.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.reason)

			var ve *sri.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "cedula", ve.Field)
			assert.Equal(t, tc.value, ve.Value)
		})
	}
}

// TestIsCedula_MutacionDeUnDigito verifica que cambiar cualquier dígito de una
// cédula válida la invalida (el algoritmo detecta todo error simple).
func TestIsCedula_MutacionDeUnDigito(t *testing.T) {
	for _, valid := range []string{"1710034065", "1756760292"} {
		for pos := 0; pos < len(valid); pos++ {
			for d := byte('0'); d <= '9'; d++ {
				if valid[pos] == d {
					continue
				}
				mutated := []byte(valid)
				mutated[pos] = d
				assert.Error(t, sri.IsCedula(string(mutated)),
					"la mutación %s de %s debe fallar", mutated, valid)
			}
		}
	}
}

// TestIsCedula_RecalculoIndependiente genera prefijos aleatorios y comprueba que
// IsCedula acepta exactamente el verificador calculado de forma independiente.
func TestIsCedula_RecalculoIndependiente(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		province := 1 + rng.Intn(22)
		third := rng.Intn(6)
		prefix := fmt.Sprintf("%02d%d%06d", province, third, rng.Intn(1_000_000))

		expected := independentCedulaVerifier(prefix)
		for v := 0; v <= 9; v++ {
			value := fmt.Sprintf("%s%d", prefix, v)
			err := sri.IsCedula(value)
			if v == expected {
				assert.NoError(t, err, "cédula %s", value)
			} else {
				assert.ErrorIs(t, err, sri.ErrInvalidChecksum, "cédula %s", value)
			}
		}
	}
}

func independentCedulaVerifier(prefix string) int {
	sum := 0
	for i, r := range prefix {
		n := int(r - '0')
		if i%2 == 0 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
	}
	if sum%10 == 0 {
		return 0
	}
	return 10 - sum%10
}

// ── RUC ───────────────────────────────────────────────────────────────────────

func TestIsRuc_Validos(t *testing.T) {
	for _, r := range []string{
		"1710034065001", // persona natural
		"1756760292001", // persona natural
		"1791321634001", // sociedad
		"1760001550001", // institución pública
		"9999999999999", // consumidor final
		"9999999999001",
	} {
		assert.NoError(t, sri.IsRuc(r), "el RUC %s debe ser válido", r)
	}
}

func TestIsRuc_Motivos(t *testing.T) {
	cases := []struct {
		name   string
		value  string
		reason error
	}{
		{"sufijo 002", "1756760292002", sri.ErrInvalidSuffix},
		{"doce dígitos", "175676029201", sri.ErrInvalidLength},
		{"no numérico", "17567602920A1", sri.ErrInvalidLength},
		{"verificador persona natural", "1756760293001", sri.ErrInvalidChecksum},
		{"verificador sociedad", "1791321635001", sri.ErrInvalidChecksum},
		{"verificador pública", "1760001560001", sri.ErrInvalidChecksum},
		{"provincia 23", "2391321634001", sri.ErrInvalidProvince},
		{"tercer dígito 7", "1771321634001", sri.ErrInvalidThirdDigit},
		{"tercer dígito 8", "1781321634001", sri.ErrInvalidThirdDigit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := sri.IsRuc(tc.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.reason)

			var ve *sri.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "ruc", ve.Field)
		})
	}
}

func TestModulo11_ResiduoCero(t *testing.T) {
	// 11 * 1 = 11 → residuo 0 → verificador 0
	assert.Equal(t, 0, sri.Modulo11([]int{0, 0, 0, 0, 0, 0, 0, 1}, []int{1, 1, 1, 1, 1, 1, 1, 11}))
	assert.Equal(t, 4, sri.Modulo11([]int{1, 7, 9, 1, 3, 2, 1, 6, 3}, []int{4, 3, 2, 7, 6, 5, 4, 3, 2}))
}

func TestIdentificationTypeFor(t *testing.T) {
	assert.Equal(t, sri.IdentificacionConsumidorFinal, sri.IdentificationTypeFor("9999999999999"))
	assert.Equal(t, sri.IdentificacionRUC, sri.IdentificationTypeFor("1791321634001"))
	assert.Equal(t, sri.IdentificacionCedula, sri.IdentificationTypeFor("1710034065"))
	assert.Equal(t, sri.IdentificacionPasaporte, sri.IdentificationTypeFor("AB123456"))
}
