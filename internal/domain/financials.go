package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinancialStatement is the normalized content of one annual report. Every
// numeric field is optional: filings omit concepts freely. Once stored for a
// company and closed period it is never refetched.
type FinancialStatement struct {
	OrgNumber       OrgNumber       `json:"orgNumber,omitempty"`
	DocumentID      string          `json:"documentId,omitempty"`
	ArchivePath     string          `json:"archivePath,omitempty"`
	Period          Period          `json:"period"`
	IncomeStatement IncomeStatement `json:"incomeStatement"`
	BalanceSheet    BalanceSheet    `json:"balanceSheet"`
	KeyMetrics      KeyMetrics      `json:"keyMetrics"`
	Management      Management      `json:"management"`
	Signing         Signing         `json:"signing"`
}

type Period struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Year is the calendar year the period ends in, or 0 when unknown.
func (p Period) Year() int {
	if p.To == nil {
		return 0
	}
	return p.To.Year()
}

type IncomeStatement struct {
	Revenue                   *float64 `json:"revenue,omitempty"`
	OtherOperatingIncome      *float64 `json:"otherOperatingIncome,omitempty"`
	TotalOperatingIncome      *float64 `json:"totalOperatingIncome,omitempty"`
	RawMaterials              *float64 `json:"rawMaterials,omitempty"`
	OtherExternalCosts        *float64 `json:"otherExternalCosts,omitempty"`
	PersonnelCosts            *float64 `json:"personnelCosts,omitempty"`
	DepreciationAmortization  *float64 `json:"depreciationAmortization,omitempty"`
	OperatingResult           *float64 `json:"operatingResult,omitempty"`
	FinancialItems            *float64 `json:"financialItems,omitempty"`
	ResultAfterFinancialItems *float64 `json:"resultAfterFinancialItems,omitempty"`
	Appropriations            *float64 `json:"appropriations,omitempty"`
	ResultBeforeTax           *float64 `json:"resultBeforeTax,omitempty"`
	Tax                       *float64 `json:"tax,omitempty"`
	NetIncome                 *float64 `json:"netIncome,omitempty"`
}

type BalanceSheet struct {
	IntangibleAssets          *float64 `json:"intangibleAssets,omitempty"`
	TangibleAssets            *float64 `json:"tangibleAssets,omitempty"`
	FinancialAssets           *float64 `json:"financialAssets,omitempty"`
	FixedAssets               *float64 `json:"fixedAssets,omitempty"`
	Inventories               *float64 `json:"inventories,omitempty"`
	Receivables               *float64 `json:"receivables,omitempty"`
	CashAndBank               *float64 `json:"cashAndBank,omitempty"`
	CurrentAssets             *float64 `json:"currentAssets,omitempty"`
	TotalAssets               *float64 `json:"totalAssets,omitempty"`
	ShareCapital              *float64 `json:"shareCapital,omitempty"`
	Reserves                  *float64 `json:"reserves,omitempty"`
	RetainedEarnings          *float64 `json:"retainedEarnings,omitempty"`
	PeriodResult              *float64 `json:"periodResult,omitempty"`
	Equity                    *float64 `json:"equity,omitempty"`
	UntaxedReserves           *float64 `json:"untaxedReserves,omitempty"`
	Provisions                *float64 `json:"provisions,omitempty"`
	LongTermLiabilities       *float64 `json:"longTermLiabilities,omitempty"`
	CurrentLiabilities        *float64 `json:"currentLiabilities,omitempty"`
	TotalEquityAndLiabilities *float64 `json:"totalEquityAndLiabilities,omitempty"`
}

type KeyMetrics struct {
	SolidityPercent *float64 `json:"solidityPercent,omitempty"`
	Employees       *float64 `json:"employees,omitempty"`
}

// Placeholder role for signers whose role text matched no keyword.
const UnknownRole = "unknown role"

type Person struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type Management struct {
	CEO          *Person  `json:"ceo,omitempty"`
	BoardMembers []Person `json:"boardMembers"`
}

type Signing struct {
	Date  *time.Time `json:"date,omitempty"`
	Place string     `json:"place,omitempty"`
}

// Normalize applies the derivation rules in order: solidity from equity and
// total assets, equity from its components, then solidity again. Fields that
// are present are never overwritten.
func (s *FinancialStatement) Normalize() {
	s.deriveSolidity()
	if s.BalanceSheet.Equity == nil {
		s.BalanceSheet.Equity = s.equityFromComponents()
	}
	s.deriveSolidity()
}

// FieldCount counts populated numeric fields.
func (s *FinancialStatement) FieldCount() int {
	n := 0
	for _, p := range s.numericFields() {
		if *p != nil {
			n++
		}
	}
	return n
}

func (s *FinancialStatement) deriveSolidity() {
	if s.KeyMetrics.SolidityPercent != nil {
		return
	}
	s.KeyMetrics.SolidityPercent = SolidityPercent(s.BalanceSheet.Equity, s.BalanceSheet.TotalAssets)
}

func (s *FinancialStatement) equityFromComponents() *float64 {
	b := s.BalanceSheet
	result := b.PeriodResult
	if result == nil {
		result = s.IncomeStatement.NetIncome
	}
	parts := []*float64{b.ShareCapital, b.Reserves, b.RetainedEarnings, result}
	sum := decimal.Zero
	found := false
	for _, p := range parts {
		if p == nil {
			continue
		}
		found = true
		sum = sum.Add(decimal.NewFromFloat(*p))
	}
	// Share capital alone is not equity.
	if !found || b.ShareCapital == nil || (b.RetainedEarnings == nil && result == nil) {
		return nil
	}
	v := sum.InexactFloat64()
	return &v
}

// SolidityPercent returns round(equity/totalAssets*100, 1), or nil when either
// operand is missing or total assets is zero.
func SolidityPercent(equity, totalAssets *float64) *float64 {
	if equity == nil || totalAssets == nil || *totalAssets == 0 {
		return nil
	}
	v := decimal.NewFromFloat(*equity).
		Div(decimal.NewFromFloat(*totalAssets)).
		Mul(decimal.NewFromInt(100)).
		Round(1).
		InexactFloat64()
	return &v
}

func (s *FinancialStatement) numericFields() []**float64 {
	i, b, k := &s.IncomeStatement, &s.BalanceSheet, &s.KeyMetrics
	return []**float64{
		&i.Revenue, &i.OtherOperatingIncome, &i.TotalOperatingIncome, &i.RawMaterials,
		&i.OtherExternalCosts, &i.PersonnelCosts, &i.DepreciationAmortization, &i.OperatingResult,
		&i.FinancialItems, &i.ResultAfterFinancialItems, &i.Appropriations, &i.ResultBeforeTax,
		&i.Tax, &i.NetIncome,
		&b.IntangibleAssets, &b.TangibleAssets, &b.FinancialAssets, &b.FixedAssets,
		&b.Inventories, &b.Receivables, &b.CashAndBank, &b.CurrentAssets, &b.TotalAssets,
		&b.ShareCapital, &b.Reserves, &b.RetainedEarnings, &b.PeriodResult, &b.Equity,
		&b.UntaxedReserves, &b.Provisions, &b.LongTermLiabilities, &b.CurrentLiabilities,
		&b.TotalEquityAndLiabilities,
		&k.SolidityPercent, &k.Employees,
	}
}
