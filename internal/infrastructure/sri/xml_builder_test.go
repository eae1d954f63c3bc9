package sri_test

import (
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	infrasri "github.com/jhoicas/comprobantes-sri/internal/infrastructure/sri"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

const testKey = "1503202401179132163400110010020000001230000012313"

func fixtureFactura() (*entity.Company, *entity.EmissionPoint, *entity.Comprobante) {
	company := &entity.Company{
		ID: "co-1", RUC: "1791321634001", LegalName: "ACME  S.A.\x07", TradeName: "Acme",
		Address: "Av. Amazonas N34-451", ObligadoContabilidad: true,
	}
	point := &entity.EmissionPoint{ID: "pt-1", CompanyID: "co-1", EstablishmentCode: "001", Code: "002"}

	c := entity.NewComprobante()
	c.ID = "cmp-1"
	c.DocumentType = sri.DocumentFactura
	c.Date = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	c.Environment = sri.EnvironmentTest
	c.EmissionType = sri.EmissionNormal
	c.Buyer = entity.Buyer{IDType: sri.IdentificacionCedula, ID: "1710034065", Name: "José Pérez", Email: "jose@example.com"}
	c.Lines = []entity.ComprobanteLine{
		{Position: 1, Code: "P1", Description: "Servicio", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50),
			IVARateCode: sri.IVARate15, IVAPercent: decimal.NewFromInt(15)},
		{Position: 2, Code: "P2", Description: "Libro", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(20),
			IVARateCode: sri.IVARate0, IVAPercent: decimal.Zero},
	}
	c.ComputeTotals()
	return company, point, c
}

func TestXMLBuilder_Factura(t *testing.T) {
	company, point, c := fixtureFactura()

	out, err := infrasri.NewXMLBuilder().Render(company, point, c, testKey, 123)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, "factura", root.Tag)
	assert.Equal(t, infrasri.ComprobanteElementID, root.SelectAttrValue("id", ""))
	assert.Equal(t, infrasri.FacturaVersion, root.SelectAttrValue("version", ""))

	get := func(path string) string {
		el := root.FindElement(path)
		require.NotNil(t, el, path)
		return el.Text()
	}
	assert.Equal(t, "1", get("infoTributaria/ambiente"))
	assert.Equal(t, "ACME S.A.", get("infoTributaria/razonSocial"))
	assert.Equal(t, testKey, get("infoTributaria/claveAcceso"))
	assert.Equal(t, "01", get("infoTributaria/codDoc"))
	assert.Equal(t, "001", get("infoTributaria/estab"))
	assert.Equal(t, "002", get("infoTributaria/ptoEmi"))
	assert.Equal(t, "000000123", get("infoTributaria/secuencial"))

	assert.Equal(t, "15/03/2024", get("infoFactura/fechaEmision"))
	assert.Equal(t, "SI", get("infoFactura/obligadoContabilidad"))
	assert.Equal(t, "05", get("infoFactura/tipoIdentificacionComprador"))
	assert.Equal(t, "José Pérez", get("infoFactura/razonSocialComprador"))
	assert.Equal(t, "120.00", get("infoFactura/totalSinImpuestos"))
	assert.Equal(t, "135.00", get("infoFactura/importeTotal"))
	assert.Equal(t, "DOLAR", get("infoFactura/moneda"))
	assert.Equal(t, "01", get("infoFactura/pagos/pago/formaPago"))

	totals := root.FindElements("infoFactura/totalConImpuestos/totalImpuesto")
	require.Len(t, totals, 2)
	assert.Equal(t, "0", totals[0].FindElement("codigoPorcentaje").Text())
	assert.Equal(t, "20.00", totals[0].FindElement("baseImponible").Text())
	assert.Equal(t, "4", totals[1].FindElement("codigoPorcentaje").Text())
	assert.Equal(t, "15.00", totals[1].FindElement("valor").Text())

	detalles := root.FindElements("detalles/detalle")
	require.Len(t, detalles, 2)
	assert.Equal(t, "2.000000", detalles[0].FindElement("cantidad").Text())
	assert.Equal(t, "100.00", detalles[0].FindElement("precioTotalSinImpuesto").Text())

	email := root.FindElement("infoAdicional/campoAdicional[@nombre='Email']")
	require.NotNil(t, email)
	assert.Equal(t, "jose@example.com", email.Text())
}

func TestXMLBuilder_Errores(t *testing.T) {
	company, point, c := fixtureFactura()
	b := infrasri.NewXMLBuilder()

	_, err := b.Render(company, point, c, "123", 1)
	assert.Error(t, err)

	c.DocumentType = sri.DocumentGuiaRemision
	_, err = b.Render(company, point, c, testKey, 1)
	assert.ErrorIs(t, err, infrasri.ErrUnsupportedDocument)

	_, err = b.Render(nil, point, c, testKey, 1)
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"controles", "ACME\x00\x07 S.A.", 0, "ACME S.A."},
		{"espacios", "  uno \t dos\n tres ", 0, "uno dos tres"},
		{"nfc", "Jose\u0301", 0, "Jos\u00e9"},
		{"recorte por runas", "ñandú", 3, "ñan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, infrasri.Sanitize(tt.in, tt.limit))
		})
	}
}
