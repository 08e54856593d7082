package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolagsdata/internal/correlation"
)

func ptr(v float64) *float64 { return &v }

func TestParseOrgNumber_Accepts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want OrgNumber
	}{
		{"plain", "5560360793", "5560360793"},
		{"hyphen", "556036-0793", "5560360793"},
		{"sixteen prefix", "165560360793", "5560360793"},
		{"century prefix", "19556036-0793", "5560360793"},
		{"whitespace", " 556036-0793 ", "5560360793"},
		{"trading company", "9696979732", "9696979732"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrgNumber(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOrgNumber_FlippedCheckDigitAlwaysRejected(t *testing.T) {
	valid := []string{"5560360793", "5566778899", "2021005489", "9696979732"}
	for _, v := range valid {
		_, err := ParseOrgNumber(v)
		require.NoError(t, err, v)
		for d := byte('0'); d <= '9'; d++ {
			if d == v[9] {
				continue
			}
			flipped := v[:9] + string(d)
			_, err := ParseOrgNumber(flipped)
			assert.ErrorIs(t, err, ErrValidation, flipped)
		}
	}
}

func TestParseOrgNumber_Malformed(t *testing.T) {
	for _, in := range []string{"", "123", "55603607931", "556036O793", "abcdefghij", "995560360793", "005560360793"} {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			_, err := ParseOrgNumber(in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "orgnr", ve.Field)
		})
	}
}

func TestOrgNumber_Formatted(t *testing.T) {
	assert.Equal(t, "556036-0793", MustOrgNumber("5560360793").Formatted())
}

func TestCachedEntry_Fresh(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)
	e := CachedEntry[string]{FetchedAt: now, ExpiresAt: &exp}

	assert.True(t, e.Fresh(now))
	assert.True(t, e.Fresh(exp.Add(-time.Nanosecond)))
	assert.False(t, e.Fresh(exp), "read at expiresAt is a miss")
	assert.False(t, e.Fresh(exp.Add(time.Second)))

	e.ExpiresAt = nil
	assert.True(t, e.Fresh(now.Add(100*365*24*time.Hour)))
}

func TestAccessToken_Usable(t *testing.T) {
	now := time.Now()
	tok := AccessToken{Value: "abc", ExpiresAt: now.Add(90 * time.Second)}
	assert.True(t, tok.Usable(now, time.Minute))
	assert.False(t, tok.Usable(now.Add(31*time.Second), time.Minute))
	assert.False(t, AccessToken{ExpiresAt: now.Add(time.Hour)}.Usable(now, time.Minute))
}

func TestNormalize_DerivesSolidity(t *testing.T) {
	s := FinancialStatement{BalanceSheet: BalanceSheet{Equity: ptr(700000), TotalAssets: ptr(1000000)}}
	s.Normalize()
	require.NotNil(t, s.KeyMetrics.SolidityPercent)
	assert.Equal(t, 70.0, *s.KeyMetrics.SolidityPercent)
}

func TestNormalize_KeepsExplicitSolidity(t *testing.T) {
	s := FinancialStatement{
		BalanceSheet: BalanceSheet{Equity: ptr(700000), TotalAssets: ptr(1000000)},
		KeyMetrics:   KeyMetrics{SolidityPercent: ptr(68.2)},
	}
	s.Normalize()
	assert.Equal(t, 68.2, *s.KeyMetrics.SolidityPercent)
}

func TestNormalize_DerivesEquityFromComponents(t *testing.T) {
	s := FinancialStatement{
		IncomeStatement: IncomeStatement{NetIncome: ptr(50000)},
		BalanceSheet: BalanceSheet{
			ShareCapital:     ptr(25000),
			Reserves:         ptr(5000),
			RetainedEarnings: ptr(120000),
			TotalAssets:      ptr(600000),
		},
	}
	s.Normalize()
	require.NotNil(t, s.BalanceSheet.Equity)
	assert.Equal(t, 200000.0, *s.BalanceSheet.Equity)
	require.NotNil(t, s.KeyMetrics.SolidityPercent)
	assert.Equal(t, 33.3, *s.KeyMetrics.SolidityPercent)
}

func TestNormalize_ShareCapitalAloneIsNotEquity(t *testing.T) {
	s := FinancialStatement{BalanceSheet: BalanceSheet{ShareCapital: ptr(25000), TotalAssets: ptr(100)}}
	s.Normalize()
	assert.Nil(t, s.BalanceSheet.Equity)
	assert.Nil(t, s.KeyMetrics.SolidityPercent)
}

func TestSolidityPercent_ZeroAssets(t *testing.T) {
	assert.Nil(t, SolidityPercent(ptr(1), ptr(0)))
	assert.Nil(t, SolidityPercent(nil, ptr(10)))
}

func TestFieldCount(t *testing.T) {
	var s FinancialStatement
	assert.Zero(t, s.FieldCount())
	s.IncomeStatement.Revenue = ptr(1)
	s.KeyMetrics.Employees = ptr(3)
	assert.Equal(t, 2, s.FieldCount())
}

func TestErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		err    error
		target error
		status int
	}{
		{&ValidationError{Field: "orgnr", Reason: "bad"}, ErrValidation, http.StatusBadRequest},
		{&NotFoundError{Entity: "organisation", Key: "x"}, ErrNotFound, http.StatusNotFound},
		{&UpstreamError{Op: "get", Attempts: 4, StatusCode: 503}, ErrUpstream, http.StatusBadGateway},
		{&CircuitOpenError{Name: "registry", Remaining: time.Second}, ErrCircuitOpen, http.StatusServiceUnavailable},
		{&ParseError{Reason: "empty"}, ErrParse, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.target.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("wrapped: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.target))
			assert.Equal(t, tt.status, StatusCode(wrapped))
		})
	}
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
}

func TestUpstreamError_CarriesAttempts(t *testing.T) {
	err := &UpstreamError{Op: "organisationer", StatusCode: 503, Attempts: 4}
	assert.Contains(t, err.Error(), "4 attempt(s)")
	assert.True(t, err.Retryable())
	assert.False(t, (&UpstreamError{StatusCode: 400}).Retryable())
}

func TestWithCorrelation_StampsOnce(t *testing.T) {
	ctx := correlation.WithID(context.Background(), "corr-1")
	err := fmt.Errorf("lookup: %w", &NotFoundError{Entity: "organisation", Key: "5560360793"})

	WithCorrelation(ctx, err)
	assert.Equal(t, "corr-1", CorrelationOf(err))

	WithCorrelation(correlation.WithID(context.Background(), "corr-2"), err)
	assert.Equal(t, "corr-1", CorrelationOf(err), "existing id is kept")
}
