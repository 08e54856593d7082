package extractor

import (
	"strings"
	"time"
	"unicode"

	"bolagsdata/internal/domain"
)

type setter func(*domain.FinancialStatement) **float64

// conceptFields maps se-gen-base concepts to statement fields. Where several
// concepts feed one field the earlier entry wins.
var conceptFields = []struct {
	concept string
	field   setter
}{
	{"Nettoomsattning", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.Revenue }},
	{"OvrigaRorelseintakter", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.OtherOperatingIncome }},
	{"RorelseintakterLagerforandringarMm", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.TotalOperatingIncome }},
	{"RavarorFornodenheter", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.RawMaterials }},
	{"HandelsvarorKostnader", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.RawMaterials }},
	{"OvrigaExternaKostnader", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.OtherExternalCosts }},
	{"Personalkostnader", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.PersonnelCosts }},
	{"AvskrivningarNedskrivningarMateriellaImmateriellaAnlaggningstillgangar", func(s *domain.FinancialStatement) **float64 {
		return &s.IncomeStatement.DepreciationAmortization
	}},
	{"Rorelseresultat", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.OperatingResult }},
	{"FinansiellaPoster", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.FinancialItems }},
	{"ResultatEfterFinansiellaPoster", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.ResultAfterFinancialItems }},
	{"Bokslutsdispositioner", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.Appropriations }},
	{"ResultatForeSkatt", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.ResultBeforeTax }},
	{"SkattAretsResultat", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.Tax }},
	{"AretsResultat", func(s *domain.FinancialStatement) **float64 { return &s.IncomeStatement.NetIncome }},

	{"ImmateriellaAnlaggningstillgangar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.IntangibleAssets }},
	{"MateriellaAnlaggningstillgangar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.TangibleAssets }},
	{"FinansiellaAnlaggningstillgangar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.FinancialAssets }},
	{"Anlaggningstillgangar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.FixedAssets }},
	{"VarulagerMm", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.Inventories }},
	{"KortfristigaFordringar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.Receivables }},
	{"KassaBankExklRedovisningsmedel", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.CashAndBank }},
	{"KassaBank", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.CashAndBank }},
	{"Omsattningstillgangar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.CurrentAssets }},
	{"Tillgangar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.TotalAssets }},
	{"Aktiekapital", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.ShareCapital }},
	{"Reservfond", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.Reserves }},
	{"BalanseratResultat", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.RetainedEarnings }},
	{"AretsResultatEgetKapital", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.PeriodResult }},
	{"EgetKapital", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.Equity }},
	{"ObeskattadeReserver", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.UntaxedReserves }},
	{"Avsattningar", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.Provisions }},
	{"LangfristigaSkulder", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.LongTermLiabilities }},
	{"KortfristigaSkulder", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.CurrentLiabilities }},
	{"EgetKapitalSkulder", func(s *domain.FinancialStatement) **float64 { return &s.BalanceSheet.TotalEquityAndLiabilities }},

	{"Soliditet", func(s *domain.FinancialStatement) **float64 { return &s.KeyMetrics.SolidityPercent }},
	{"MedelantaletAnstallda", func(s *domain.FinancialStatement) **float64 { return &s.KeyMetrics.Employees }},
	{"MedelantalAnstallda", func(s *domain.FinancialStatement) **float64 { return &s.KeyMetrics.Employees }},
}

// Text concepts.
const (
	conceptPeriodStart  = "RakenskapsarForstaDag"
	conceptPeriodEnd    = "RakenskapsarSistaDag"
	conceptSignerFirst  = "UnderskriftHandlingTilltalsnamn"
	conceptSignerLast   = "UnderskriftHandlingEfternamn"
	conceptSignerRole   = "UnderskriftHandlingRoll"
	conceptSigningDate  = "UndertecknandeDatum"
	conceptSigningPlace = "UndertecknandeArsredovisningOrt"
)

// Context labels used by filings that declare no dated contexts.
var fallbackPriority = map[string]bool{"period0": true, "balans0": true}

// Ranks for context preference, lower is better.
const (
	rankPriority = iota
	rankPlain
	rankDimensional
)

// priorityContexts returns the ids of the dimension-free contexts whose end
// date or instant equals the latest such date in the document.
func (d *document) priorityContexts() map[string]bool {
	var latest time.Time
	for _, c := range d.contexts {
		if !c.dimensional && c.end.After(latest) {
			latest = c.end
		}
	}
	if latest.IsZero() {
		return fallbackPriority
	}
	ids := map[string]bool{}
	for id, c := range d.contexts {
		if !c.dimensional && c.end.Equal(latest) {
			ids[id] = true
		}
	}
	return ids
}

func (d *document) rank(priority map[string]bool, contextRef string) int {
	if priority[contextRef] {
		return rankPriority
	}
	if c, ok := d.contexts[contextRef]; ok && c.dimensional {
		return rankDimensional
	}
	return rankPlain
}

// resolveNumeric picks one value per concept: the first occurrence of the
// best-ranked context. A later, worse-ranked occurrence never replaces it.
func (d *document) resolveNumeric(priority map[string]bool) map[string]float64 {
	type pick struct {
		value float64
		rank  int
	}
	best := map[string]pick{}
	for _, f := range d.numeric {
		v, ok := numericValue(f)
		if !ok {
			continue
		}
		r := d.rank(priority, f.context)
		if cur, seen := best[f.concept]; seen && cur.rank <= r {
			continue
		}
		best[f.concept] = pick{value: v, rank: r}
	}
	out := make(map[string]float64, len(best))
	for k, p := range best {
		out[k] = p.value
	}
	return out
}

func (d *document) firstText(priority map[string]bool, concept string) string {
	found, foundRank := "", rankDimensional+1
	for _, f := range d.text {
		if f.concept != concept || f.text == "" {
			continue
		}
		if r := d.rank(priority, f.context); r < foundRank {
			found, foundRank = f.text, r
		}
	}
	return found
}

func (d *document) statement() domain.FinancialStatement {
	priority := d.priorityContexts()
	values := d.resolveNumeric(priority)

	var s domain.FinancialStatement
	for _, cf := range conceptFields {
		v, ok := values[cf.concept]
		if !ok {
			continue
		}
		if p := cf.field(&s); *p == nil {
			val := v
			*p = &val
		}
	}

	s.Period = d.period(priority)
	s.Management = d.management()
	if t, ok := parseDay(d.firstText(priority, conceptSigningDate)); ok {
		s.Signing.Date = &t
	}
	s.Signing.Place = d.firstText(priority, conceptSigningPlace)
	return s
}

func (d *document) period(priority map[string]bool) domain.Period {
	var p domain.Period
	if t, ok := parseDay(d.firstText(priority, conceptPeriodStart)); ok {
		p.From = &t
	}
	if t, ok := parseDay(d.firstText(priority, conceptPeriodEnd)); ok {
		p.To = &t
	}
	// Fall back to the dates of the priority duration context.
	for id := range priority {
		c, ok := d.contexts[id]
		if !ok || c.start.IsZero() {
			continue
		}
		if p.From == nil {
			t := c.start
			p.From = &t
		}
		if p.To == nil {
			t := c.end
			p.To = &t
		}
		break
	}
	return p
}

type signer struct {
	first, last, role string
}

func (s signer) name() string {
	return strings.TrimSpace(s.first + " " + s.last)
}

// management groups consecutive signer tags. A new record starts whenever a
// part that the current record already holds appears again.
func (d *document) management() domain.Management {
	var (
		signers []signer
		cur     signer
		open    bool
	)
	flush := func() {
		if open && cur.name() != "" {
			signers = append(signers, cur)
		}
		cur, open = signer{}, false
	}
	for _, f := range d.text {
		switch f.concept {
		case conceptSignerFirst:
			if cur.first != "" {
				flush()
			}
			cur.first, open = f.text, true
		case conceptSignerLast:
			if cur.last != "" {
				flush()
			}
			cur.last, open = f.text, true
		case conceptSignerRole:
			if cur.role != "" {
				flush()
			}
			cur.role, open = f.text, true
		}
	}
	flush()

	m := domain.Management{BoardMembers: []domain.Person{}}
	for _, s := range signers {
		role := strings.TrimSpace(s.role)
		p := domain.Person{Name: s.name(), Role: role}
		ceo, board := classifyRole(role)
		if ceo && m.CEO == nil {
			ceoPerson := p
			m.CEO = &ceoPerson
			if !board {
				continue
			}
		}
		// A second signer in a CEO role still signed the report.
		if !ceo && !board {
			p.Role = domain.UnknownRole
		}
		m.BoardMembers = append(m.BoardMembers, p)
	}
	return m
}

var boardKeywords = []string{"styrelse", "ledamot", "ordförande", "suppleant"}

func classifyRole(role string) (ceo, board bool) {
	lower := strings.ToLower(role)
	if strings.Contains(lower, "verkställande direktör") {
		ceo = true
	}
	for _, w := range strings.FieldsFunc(role, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if w == "VD" || w == "vd" {
			ceo = true
		}
	}
	for _, k := range boardKeywords {
		if strings.Contains(lower, k) {
			board = true
			break
		}
	}
	return ceo, board
}
