package sri

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

const (
	// FacturaVersion es la versión del esquema XSD de factura usada.
	FacturaVersion = "1.1.0"
	// ComprobanteElementID es el id del nodo raíz; la firma lo referencia con "#comprobante".
	ComprobanteElementID = "comprobante"

	moneda = "DOLAR"
)

// ErrUnsupportedDocument indica un tipo de comprobante sin renderizador.
var ErrUnsupportedDocument = errors.New("sri: tipo de comprobante no soportado por el generador XML")

// XMLBuilder genera el XML sin firmar de los comprobantes (offline, esquema SRI).
type XMLBuilder struct{}

// NewXMLBuilder crea el generador.
func NewXMLBuilder() *XMLBuilder {
	return &XMLBuilder{}
}

// Render implementa billing.XMLRenderer. La clave de acceso ya viene calculada.
func (b *XMLBuilder) Render(company *entity.Company, point *entity.EmissionPoint, c *entity.Comprobante, accessKey string, sequence int64) ([]byte, error) {
	if company == nil || point == nil || c == nil {
		return nil, fmt.Errorf("sri: faltan empresa, punto de emisión o comprobante")
	}
	if len(accessKey) != sri.AccessKeyLength {
		return nil, fmt.Errorf("sri: clave de acceso inválida %q", accessKey)
	}
	if c.DocumentType != sri.DocumentFactura {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDocument, c.DocumentType)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(c.DocumentType.XMLRoot())
	root.CreateAttr("id", ComprobanteElementID)
	root.CreateAttr("version", FacturaVersion)

	b.writeInfoTributaria(root, company, point, c, accessKey, sequence)
	b.writeInfoFactura(root, company, c)
	b.writeDetalles(root, c)
	b.writeInfoAdicional(root, c)

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sri: serializar XML: %w", err)
	}
	return out, nil
}

func (b *XMLBuilder) writeInfoTributaria(root *etree.Element, company *entity.Company, point *entity.EmissionPoint, c *entity.Comprobante, accessKey string, sequence int64) {
	info := root.CreateElement("infoTributaria")
	text(info, "ambiente", c.Environment.Code())
	emission := c.EmissionType
	if emission == "" {
		emission = sri.EmissionNormal
	}
	text(info, "tipoEmision", string(emission))
	text(info, "razonSocial", Sanitize(company.LegalName, 300))
	if company.TradeName != "" {
		text(info, "nombreComercial", Sanitize(company.TradeName, 300))
	}
	text(info, "ruc", company.RUC)
	text(info, "claveAcceso", accessKey)
	text(info, "codDoc", string(c.DocumentType))
	text(info, "estab", point.EstablishmentCode)
	text(info, "ptoEmi", point.Code)
	text(info, "secuencial", sri.FormatSequence(sequence))
	text(info, "dirMatriz", Sanitize(company.Address, 300))
}

func (b *XMLBuilder) writeInfoFactura(root *etree.Element, company *entity.Company, c *entity.Comprobante) {
	info := root.CreateElement("infoFactura")
	text(info, "fechaEmision", c.Date.Format("02/01/2006"))
	text(info, "dirEstablecimiento", Sanitize(company.Address, 300))
	if company.ContribuyenteEspecial != "" {
		text(info, "contribuyenteEspecial", company.ContribuyenteEspecial)
	}
	text(info, "obligadoContabilidad", siNo(company.ObligadoContabilidad))

	idType := c.Buyer.IDType
	if idType == "" {
		idType = sri.IdentificationTypeFor(c.Buyer.ID)
	}
	text(info, "tipoIdentificacionComprador", idType)
	text(info, "razonSocialComprador", Sanitize(c.Buyer.Name, 300))
	text(info, "identificacionComprador", c.Buyer.ID)
	if c.Buyer.Address != "" {
		text(info, "direccionComprador", Sanitize(c.Buyer.Address, 300))
	}

	discount := decimal.Zero
	for _, l := range c.Lines {
		discount = discount.Add(l.Discount)
	}
	text(info, "totalSinImpuestos", money(c.Subtotal))
	text(info, "totalDescuento", money(discount))

	totals := info.CreateElement("totalConImpuestos")
	for _, g := range groupByRate(c.Lines) {
		ti := totals.CreateElement("totalImpuesto")
		text(ti, "codigo", sri.TaxCodeIVA)
		text(ti, "codigoPorcentaje", g.code)
		text(ti, "baseImponible", money(g.base))
		text(ti, "valor", money(g.value))
	}
	text(info, "propina", money(decimal.Zero))
	text(info, "importeTotal", money(c.Total))
	text(info, "moneda", moneda)

	payment := c.PaymentMethod
	if payment == "" {
		payment = sri.PaymentSinSistemaFinanciero
	}
	pago := info.CreateElement("pagos").CreateElement("pago")
	text(pago, "formaPago", payment)
	text(pago, "total", money(c.Total))
}

func (b *XMLBuilder) writeDetalles(root *etree.Element, c *entity.Comprobante) {
	detalles := root.CreateElement("detalles")
	for _, l := range c.Lines {
		d := detalles.CreateElement("detalle")
		text(d, "codigoPrincipal", Sanitize(l.Code, 25))
		text(d, "descripcion", Sanitize(l.Description, 300))
		text(d, "cantidad", l.Quantity.StringFixed(6))
		text(d, "precioUnitario", l.UnitPrice.StringFixed(6))
		text(d, "descuento", money(l.Discount))
		text(d, "precioTotalSinImpuesto", money(l.Subtotal))

		imp := d.CreateElement("impuestos").CreateElement("impuesto")
		text(imp, "codigo", sri.TaxCodeIVA)
		text(imp, "codigoPorcentaje", l.IVARateCode)
		text(imp, "tarifa", l.IVAPercent.StringFixed(2))
		text(imp, "baseImponible", money(l.Subtotal))
		text(imp, "valor", money(l.IVA()))
	}
}

func (b *XMLBuilder) writeInfoAdicional(root *etree.Element, c *entity.Comprobante) {
	if c.Buyer.Email == "" {
		return
	}
	campo := root.CreateElement("infoAdicional").CreateElement("campoAdicional")
	campo.CreateAttr("nombre", "Email")
	campo.SetText(Sanitize(c.Buyer.Email, 300))
}

type rateGroup struct {
	code  string
	base  decimal.Decimal
	value decimal.Decimal
}

// groupByRate agrupa bases e impuestos por código de porcentaje, en orden de código.
func groupByRate(lines []entity.ComprobanteLine) []rateGroup {
	idx := map[string]*rateGroup{}
	for _, l := range lines {
		g, ok := idx[l.IVARateCode]
		if !ok {
			g = &rateGroup{code: l.IVARateCode}
			idx[l.IVARateCode] = g
		}
		g.base = g.base.Add(l.Subtotal)
		g.value = g.value.Add(l.IVA())
	}
	out := make([]rateGroup, 0, len(idx))
	for _, g := range idx {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}

func text(parent *etree.Element, tag, value string) {
	parent.CreateElement(tag).SetText(value)
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func siNo(b bool) string {
	if b {
		return "SI"
	}
	return "NO"
}

// sanitizer normaliza a NFC y cambia los caracteres de control, que el SRI
// rechaza, por espacios.
var sanitizer = transform.Chain(norm.NFC, runes.Map(func(r rune) rune {
	if unicode.IsControl(r) {
		return ' '
	}
	return r
}))

// Sanitize deja el texto apto para el XML del SRI: NFC, sin controles, espacios
// colapsados y recortado a limit runas (0 = sin límite).
func Sanitize(s string, limit int) string {
	out, _, err := transform.String(sanitizer, s)
	if err != nil {
		out = s
	}
	out = strings.Join(strings.Fields(out), " ")
	if r := []rune(out); limit > 0 && len(r) > limit {
		out = string(r[:limit])
	}
	return out
}
