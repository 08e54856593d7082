package extractor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolagsdata/internal/domain"
)

const header = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:ix="http://www.xbrl.org/2013/inlineXBRL"
  xmlns:xbrli="http://www.xbrl.org/2003/instance" xmlns:se-gen-base="http://www.taxonomier.se/se/fr/gen-base/2021-10-31">
<body>
<div style="display:none"><ix:header><ix:resources>
  <xbrli:context id="period0"><xbrli:entity><xbrli:identifier scheme="http://www.bolagsverket.se">5560360793</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:startDate>2023-01-01</xbrli:startDate><xbrli:endDate>2023-12-31</xbrli:endDate></xbrli:period></xbrli:context>
  <xbrli:context id="period1"><xbrli:entity><xbrli:identifier scheme="http://www.bolagsverket.se">5560360793</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:startDate>2022-01-01</xbrli:startDate><xbrli:endDate>2022-12-31</xbrli:endDate></xbrli:period></xbrli:context>
  <xbrli:context id="balans0"><xbrli:entity><xbrli:identifier scheme="http://www.bolagsverket.se">5560360793</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2023-12-31</xbrli:instant></xbrli:period></xbrli:context>
  <xbrli:context id="balans1"><xbrli:entity><xbrli:identifier scheme="http://www.bolagsverket.se">5560360793</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2022-12-31</xbrli:instant></xbrli:period></xbrli:context>
</ix:resources></ix:header></div>
`

const footer = `</body></html>`

func doc(body string) string { return header + body + footer }

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const fullReport = `
<p>Räkenskapsår <ix:nonNumeric name="se-cd-base:RakenskapsarForstaDag" contextRef="period0">2023-01-01</ix:nonNumeric>
 – <ix:nonNumeric name="se-cd-base:RakenskapsarSistaDag" contextRef="period0">2023-12-31</ix:nonNumeric></p>
<table>
<tr><td>Nettoomsättning</td>
  <td><ix:nonFraction name="se-gen-base:Nettoomsattning" contextRef="period0" unitRef="SEK" scale="3" decimals="-3" format="ixt:numspacecomma">12 345</ix:nonFraction></td>
  <td><ix:nonFraction name="se-gen-base:Nettoomsattning" contextRef="period1" unitRef="SEK" scale="3" decimals="-3" format="ixt:numspacecomma">11 000</ix:nonFraction></td></tr>
<tr><td>Övriga externa kostnader</td>
  <td><ix:nonFraction name="se-gen-base:OvrigaExternaKostnader" contextRef="period0" unitRef="SEK" sign="-" format="ixt:numspacecomma">4&#160;500&#160;000</ix:nonFraction></td></tr>
<tr><td>Årets resultat</td>
  <td><ix:nonFraction name="se-gen-base:AretsResultat" contextRef="period0" unitRef="SEK" format="ixt:numspacecomma">250 000</ix:nonFraction></td></tr>
<tr><td>Summa tillgångar</td>
  <td><ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans0" unitRef="SEK" format="ixt:numspacecomma">1 000 000</ix:nonFraction></td></tr>
<tr><td>Eget kapital</td>
  <td><ix:nonFraction name="se-gen-base:EgetKapital" contextRef="balans0" unitRef="SEK" format="ixt:numspacecomma">700 000</ix:nonFraction></td></tr>
<tr><td>Kassa och bank</td>
  <td><ix:nonFraction name="se-gen-base:KassaBankExklRedovisningsmedel" contextRef="balans0" unitRef="SEK" format="ixt:numspacecomma">&#8211;</ix:nonFraction></td>
  <td><ix:nonFraction name="se-gen-base:KassaBankExklRedovisningsmedel" contextRef="balans1" unitRef="SEK" format="ixt:numspacecomma">90 000</ix:nonFraction></td></tr>
<tr><td>Medelantalet anställda</td>
  <td><ix:nonFraction name="se-gen-base:MedelantaletAnstallda" contextRef="period0" unitRef="antal-anstallda" scale="3" format="ixt:numspacecomma">12</ix:nonFraction></td></tr>
<tr><td>Okänt begrepp</td>
  <td><ix:nonFraction name="se-gen-base:NagotHeltAnnat" contextRef="period0" unitRef="SEK">5</ix:nonFraction></td></tr>
</table>
<p><ix:nonNumeric name="se-gen-base:UndertecknandeArsredovisningOrt" contextRef="period0">Linköping</ix:nonNumeric>
 den <ix:nonNumeric name="se-gen-base:UndertecknandeDatum" contextRef="period0">2024-03-14</ix:nonNumeric></p>
<div>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingTilltalsnamn" contextRef="period0">Anna</ix:nonNumeric>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingEfternamn" contextRef="period0">Berg</ix:nonNumeric>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingRoll" contextRef="period0">Styrelseordförande</ix:nonNumeric>
</div>
<div>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingTilltalsnamn" contextRef="period0">Erik</ix:nonNumeric>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingEfternamn" contextRef="period0">Lund</ix:nonNumeric>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingRoll" contextRef="period0"><span>Verkställande direktör</span></ix:nonNumeric>
</div>
<div>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingTilltalsnamn" contextRef="period0">Maria</ix:nonNumeric>
  <ix:nonNumeric name="se-gen-base:UnderskriftHandlingEfternamn" contextRef="period0">Ek</ix:nonNumeric>
</div>
`

func TestExtract_FullReport(t *testing.T) {
	bundle := zipOf(t, map[string]string{"5560360793_2023.xhtml": doc(fullReport)})

	s, err := Extract(bundle)
	require.NoError(t, err)

	require.NotNil(t, s.IncomeStatement.Revenue)
	assert.Equal(t, 12345000.0, *s.IncomeStatement.Revenue)
	require.NotNil(t, s.IncomeStatement.OtherExternalCosts)
	assert.Equal(t, -4500000.0, *s.IncomeStatement.OtherExternalCosts)
	assert.Equal(t, 250000.0, *s.IncomeStatement.NetIncome)
	assert.Equal(t, 1000000.0, *s.BalanceSheet.TotalAssets)
	assert.Equal(t, 700000.0, *s.BalanceSheet.Equity)

	require.NotNil(t, s.BalanceSheet.CashAndBank, "dash placeholder falls back to another context")
	assert.Equal(t, 90000.0, *s.BalanceSheet.CashAndBank)

	require.NotNil(t, s.KeyMetrics.Employees)
	assert.Equal(t, 12.0, *s.KeyMetrics.Employees, "headcount is never scaled")
	require.NotNil(t, s.KeyMetrics.SolidityPercent)
	assert.Equal(t, 70.0, *s.KeyMetrics.SolidityPercent)

	require.NotNil(t, s.Period.From)
	require.NotNil(t, s.Period.To)
	assert.Equal(t, "2023-01-01", s.Period.From.Format("2006-01-02"))
	assert.Equal(t, 2023, s.Period.Year())

	require.NotNil(t, s.Signing.Date)
	assert.Equal(t, "2024-03-14", s.Signing.Date.Format("2006-01-02"))
	assert.Equal(t, "Linköping", s.Signing.Place)

	require.NotNil(t, s.Management.CEO)
	assert.Equal(t, "Erik Lund", s.Management.CEO.Name)
	assert.Equal(t, "Verkställande direktör", s.Management.CEO.Role)
	assert.Equal(t, []domain.Person{
		{Name: "Anna Berg", Role: "Styrelseordförande"},
		{Name: "Maria Ek", Role: domain.UnknownRole},
	}, s.Management.BoardMembers)
}

func TestExtract_ScaleAndNoScale(t *testing.T) {
	body := `
<ix:nonFraction name="se-gen-base:Soliditet" contextRef="balans0" unitRef="procent" scale="3" format="ixt:numspacecomma">45,6</ix:nonFraction>
<ix:nonFraction name="se-gen-base:Nettoomsattning" contextRef="period0" unitRef="SEK" scale="3" format="ixt:numspacecomma">2 500</ix:nonFraction>`
	s, err := ExtractDocument(strings.NewReader(doc(body)))
	require.NoError(t, err)
	assert.Equal(t, 45.6, *s.KeyMetrics.SolidityPercent)
	assert.Equal(t, 2500000.0, *s.IncomeStatement.Revenue)
}

func TestExtract_PriorityContextWinsRegardlessOfOrder(t *testing.T) {
	priorityFirst := `
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans0" unitRef="SEK">500</ix:nonFraction>
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans1" unitRef="SEK">400</ix:nonFraction>`
	priorityLast := `
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans1" unitRef="SEK">400</ix:nonFraction>
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans0" unitRef="SEK">500</ix:nonFraction>`

	for name, body := range map[string]string{"priority first": priorityFirst, "priority last": priorityLast} {
		t.Run(name, func(t *testing.T) {
			s, err := ExtractDocument(strings.NewReader(doc(body)))
			require.NoError(t, err)
			assert.Equal(t, 500.0, *s.BalanceSheet.TotalAssets)
		})
	}
}

func TestExtract_PriorityFollowsDatesNotLabels(t *testing.T) {
	// Contexts labelled against the usual convention: "balans1" is the latest.
	swapped := `<?xml version="1.0"?><html><body><ix:header><ix:resources>
<xbrli:context id="balans0"><xbrli:period><xbrli:instant>2022-12-31</xbrli:instant></xbrli:period></xbrli:context>
<xbrli:context id="balans1"><xbrli:period><xbrli:instant>2023-12-31</xbrli:instant></xbrli:period></xbrli:context>
<xbrli:context id="dim"><xbrli:entity><xbrli:segment><xbrldi:explicitMember dimension="x">y</xbrldi:explicitMember></xbrli:segment></xbrli:entity>
  <xbrli:period><xbrli:instant>2024-06-30</xbrli:instant></xbrli:period></xbrli:context>
</ix:resources></ix:header>
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="dim">1</ix:nonFraction>
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans0">2</ix:nonFraction>
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans1">3</ix:nonFraction>
</body></html>`
	s, err := ExtractDocument(strings.NewReader(swapped))
	require.NoError(t, err)
	assert.Equal(t, 3.0, *s.BalanceSheet.TotalAssets)
}

func TestExtract_LabelFallbackWithoutContexts(t *testing.T) {
	bare := `<html><body>
<ix:nonFraction name="se-gen-base:EgetKapital" contextRef="balans1">10</ix:nonFraction>
<ix:nonFraction name="se-gen-base:EgetKapital" contextRef="balans0">20</ix:nonFraction>
</body></html>`
	s, err := ExtractDocument(strings.NewReader(bare))
	require.NoError(t, err)
	assert.Equal(t, 20.0, *s.BalanceSheet.Equity)
}

func TestExtract_DerivesEquityFromComponents(t *testing.T) {
	body := `
<ix:nonFraction name="se-gen-base:Aktiekapital" contextRef="balans0">25 000</ix:nonFraction>
<ix:nonFraction name="se-gen-base:Reservfond" contextRef="balans0">5 000</ix:nonFraction>
<ix:nonFraction name="se-gen-base:BalanseratResultat" contextRef="balans0">120 000</ix:nonFraction>
<ix:nonFraction name="se-gen-base:AretsResultatEgetKapital" contextRef="balans0">50 000</ix:nonFraction>
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans0">400 000</ix:nonFraction>`
	s, err := ExtractDocument(strings.NewReader(doc(body)))
	require.NoError(t, err)
	require.NotNil(t, s.BalanceSheet.Equity)
	assert.Equal(t, 200000.0, *s.BalanceSheet.Equity)
	assert.Equal(t, 50.0, *s.KeyMetrics.SolidityPercent)
}

func TestExtract_DotDecimalFormat(t *testing.T) {
	body := `<ix:nonFraction name="se-gen-base:Soliditet" contextRef="balans0" format="ixt4:num-dot-decimal">1,234.5</ix:nonFraction>`
	s, err := ExtractDocument(strings.NewReader(doc(body)))
	require.NoError(t, err)
	assert.Equal(t, 1234.5, *s.KeyMetrics.SolidityPercent)
}

func TestExtract_Failures(t *testing.T) {
	t.Run("not a zip", func(t *testing.T) {
		_, err := Extract([]byte("plain text"))
		assert.ErrorIs(t, err, domain.ErrParse)
	})
	t.Run("no tagged document", func(t *testing.T) {
		_, err := Extract(zipOf(t, map[string]string{"readme.txt": "hello", "style.css": "p{}"}))
		var pe *domain.ParseError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Reason, "no tagged document")
	})
	t.Run("zero concepts", func(t *testing.T) {
		_, err := Extract(zipOf(t, map[string]string{"report.xhtml": doc(`<p>Ingen data</p>`)}))
		assert.ErrorIs(t, err, domain.ErrParse)
	})
	t.Run("only placeholders", func(t *testing.T) {
		body := `<ix:nonFraction name="se-gen-base:Nettoomsattning" contextRef="period0">-</ix:nonFraction>`
		_, err := ExtractDocument(strings.NewReader(doc(body)))
		assert.ErrorIs(t, err, domain.ErrParse)
	})
}

func TestPickDocument_PrefersXHTMLThenLargest(t *testing.T) {
	bundle := zipOf(t, map[string]string{
		"index.html":   strings.Repeat("x", 5000),
		"small.xhtml":  "a",
		"larger.xhtml": "abcdef",
		"notes.txt":    strings.Repeat("y", 9000),
	})
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	require.NoError(t, err)
	assert.Equal(t, "larger.xhtml", pickDocument(zr.File).Name)
}

func TestParseNumeral(t *testing.T) {
	tests := []struct {
		in, format string
		want       string
		ok         bool
	}{
		{"1 234 567", "ixt:numspacecomma", "1234567", true},
		{"1 234,5", "", "1234.5", true},
		{"1 000", "", "1000", true},
		{"1.234.567,89", "ixt:numcommadecimal", "1234567.89", true},
		{"1,234.5", "ixt:numdotdecimal", "1234.5", true},
		{"-", "", "", false},
		{"–", "", "", false},
		{"n/a", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok := parseNumeral(tt.in, tt.format)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, d.String())
			}
		})
	}
}

func TestClassifyRole(t *testing.T) {
	tests := []struct {
		role       string
		ceo, board bool
	}{
		{"Verkställande direktör", true, false},
		{"VD", true, false},
		{"Styrelseledamot, VD", true, true},
		{"Ordförande", false, true},
		{"Styrelsesuppleant", false, true},
		{"Revisor", false, false},
		{"Vdxyz", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			ceo, board := classifyRole(tt.role)
			assert.Equal(t, tt.ceo, ceo)
			assert.Equal(t, tt.board, board)
		})
	}
}

func TestExtract_SecondCEOSignerKept(t *testing.T) {
	body := `
<ix:nonFraction name="se-gen-base:Nettoomsattning" contextRef="period0" unitRef="SEK" format="ixt:numspacecomma">1 000</ix:nonFraction>
<ix:nonNumeric name="se-gen-base:UnderskriftHandlingTilltalsnamn" contextRef="period0">Erik</ix:nonNumeric>
<ix:nonNumeric name="se-gen-base:UnderskriftHandlingEfternamn" contextRef="period0">Lund</ix:nonNumeric>
<ix:nonNumeric name="se-gen-base:UnderskriftHandlingRoll" contextRef="period0">Verkställande direktör</ix:nonNumeric>
<ix:nonNumeric name="se-gen-base:UnderskriftHandlingTilltalsnamn" contextRef="period0">Sara</ix:nonNumeric>
<ix:nonNumeric name="se-gen-base:UnderskriftHandlingEfternamn" contextRef="period0">Holm</ix:nonNumeric>
<ix:nonNumeric name="se-gen-base:UnderskriftHandlingRoll" contextRef="period0">Vice VD</ix:nonNumeric>`
	s, err := ExtractDocument(strings.NewReader(doc(body)))
	require.NoError(t, err)

	require.NotNil(t, s.Management.CEO)
	assert.Equal(t, "Erik Lund", s.Management.CEO.Name)
	assert.Equal(t, []domain.Person{{Name: "Sara Holm", Role: "Vice VD"}}, s.Management.BoardMembers)
}
