package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FromFloat_ConvertsToCents(t *testing.T) {
	m, err := FromFloat(275.5)

	require.NoError(t, err)
	assert.Equal(t, int64(27550), m.Cents())
}

func Test_FromFloat_RejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := FromFloat(f)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func Test_FromFloat_RejectsThirdFractionalDigit(t *testing.T) {
	_, err := FromFloat(10.005)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func Test_NonNegativeFromFloat_RejectsNegative(t *testing.T) {
	_, err := NonNegativeFromFloat(-0.01)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	m, err := NonNegativeFromFloat(0)
	require.NoError(t, err)
	assert.True(t, m.IsZero())
}

func Test_Parse_AcceptsGroupedAndPlainInput(t *testing.T) {
	cases := map[string]int64{
		"275":       27500,
		"275.5":     27550,
		" 1,275.50": 127550,
		"-50":       -5000,
		"0.01":      1,
	}
	for in, want := range cases {
		m, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, m.Cents(), in)
	}
}

func Test_Parse_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "$10", "1.234"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}

	_, err := ParseNonNegative("-1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func Test_AddSubtract_NoFloatingPointDrift(t *testing.T) {
	total := Zero()
	tenCents, err := FromFloat(0.1)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		total = Add(total, tenCents)
	}

	assert.Equal(t, int64(10000), total.Cents())
	assert.Equal(t, int64(-5000), Subtract(FromCents(15000), FromCents(20000)).Cents())
}

func Test_Sum_EmptyIsZero(t *testing.T) {
	assert.True(t, Sum().IsZero())
	assert.Equal(t, int64(600), Sum(FromCents(100), FromCents(200), FromCents(300)).Cents())
}

func Test_Format_GroupsThousandsAndKeepsTwoDecimals(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{27500, "$275.00"},
		{123456789, "$1,234,567.89"},
		{-5000, "-$50.00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FromCents(tc.cents).Format(""))
	}
	assert.Equal(t, "Rs 1,000.00", FromCents(100000).Format("Rs "))
}

func Test_Money_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: FromCents(27500)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":275.00}`, string(data))

	var decoded struct {
		Amount Money `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.3"}`), &decoded))
	assert.Equal(t, int64(1230), decoded.Amount.Cents())

	assert.Error(t, json.Unmarshal([]byte(`{"amount":"twelve"}`), &decoded))
}

func Test_Decimal_IsExact(t *testing.T) {
	assert.True(t, FromCents(1999).Decimal().Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 19.99, FromCents(1999).Float64())
}
