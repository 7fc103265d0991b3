package ledger

import "github.com/shopspring/decimal"

// AmountPlaces is the minor-currency-unit precision. Amounts with more
// fractional digits than this are rejected, never rounded.
const AmountPlaces = 2

// ValidateLines applies the per-line rules: non-negative amounts, exactly one
// of debit/credit strictly positive, precision within AmountPlaces. It does
// not enforce non-emptiness; that rule belongs to the orchestrator.
func ValidateLines(lines []LineInput) error {
	for idx, line := range lines {
		if line.AccountCode == "" {
			return &LineValidationError{Index: idx, Reason: "account code required"}
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return &LineValidationError{Index: idx, Reason: "amounts must not be negative"}
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return &LineValidationError{Index: idx, Reason: "line cannot carry both debit and credit"}
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return &LineValidationError{Index: idx, Reason: "line must carry a debit or a credit"}
		}
		if excessPrecision(line.Debit) || excessPrecision(line.Credit) {
			return &LineValidationError{Index: idx, Reason: "amount exceeds minor-unit precision"}
		}
	}
	return nil
}

// Totals sums debits and credits over the lines with exact decimal arithmetic.
func Totals(lines []LineInput) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// IsBalanced reports whether total debits equal total credits exactly.
func IsBalanced(lines []LineInput) bool {
	debit, credit := Totals(lines)
	return debit.Equal(credit)
}

func excessPrecision(d decimal.Decimal) bool {
	return !d.Truncate(AmountPlaces).Equal(d)
}
