package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidateLinesAcceptsDebitXorCredit(t *testing.T) {
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("100.00")},
		{AccountCode: "2001", Credit: dec("100.00")},
	}
	require.NoError(t, ValidateLines(lines))
}

func TestValidateLinesRejectsBothAmounts(t *testing.T) {
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("10.00"), Credit: dec("10.00")},
	}
	err := ValidateLines(lines)
	var lineErr *LineValidationError
	require.ErrorAs(t, err, &lineErr)
	require.Equal(t, 0, lineErr.Index)
}

func TestValidateLinesRejectsZeroLine(t *testing.T) {
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("50.00")},
		{AccountCode: "2001"},
	}
	err := ValidateLines(lines)
	var lineErr *LineValidationError
	require.ErrorAs(t, err, &lineErr)
	require.Equal(t, 1, lineErr.Index)
}

func TestValidateLinesRejectsNegativeAmount(t *testing.T) {
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("-1.00")},
	}
	err := ValidateLines(lines)
	var lineErr *LineValidationError
	require.ErrorAs(t, err, &lineErr)
}

func TestValidateLinesRejectsMissingAccount(t *testing.T) {
	lines := []LineInput{
		{Debit: dec("1.00")},
	}
	err := ValidateLines(lines)
	var lineErr *LineValidationError
	require.ErrorAs(t, err, &lineErr)
}

func TestValidateLinesRejectsExcessPrecision(t *testing.T) {
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("100.005")},
		{AccountCode: "2001", Credit: dec("100.005")},
	}
	err := ValidateLines(lines)
	var lineErr *LineValidationError
	require.ErrorAs(t, err, &lineErr)
	require.Equal(t, 0, lineErr.Index)
}

func TestValidateLinesAcceptsTrailingZeros(t *testing.T) {
	// 100.000 carries extra digits but no extra precision.
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("100.000")},
		{AccountCode: "2001", Credit: dec("100.00")},
	}
	require.NoError(t, ValidateLines(lines))
}

func TestTotalsAreExact(t *testing.T) {
	// Classic float trap: 0.1 + 0.2 must equal 0.3 exactly.
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("0.10")},
		{AccountCode: "1001", Debit: dec("0.20")},
		{AccountCode: "2001", Credit: dec("0.30")},
	}
	debit, credit := Totals(lines)
	require.True(t, debit.Equal(dec("0.30")))
	require.True(t, credit.Equal(dec("0.30")))
	require.True(t, IsBalanced(lines))
}

func TestIsBalancedEmptySet(t *testing.T) {
	require.True(t, IsBalanced(nil))
}

func TestIsBalancedMismatch(t *testing.T) {
	lines := []LineInput{
		{AccountCode: "1001", Debit: dec("100.00")},
		{AccountCode: "2001", Credit: dec("50.00")},
	}
	require.False(t, IsBalanced(lines))
}

func TestLineValidationErrorIsTyped(t *testing.T) {
	err := ValidateLines([]LineInput{{AccountCode: "1001"}})
	var lineErr *LineValidationError
	require.True(t, errors.As(err, &lineErr))
	require.Contains(t, err.Error(), "line 0")
}
