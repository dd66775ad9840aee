package txmatch

// Transaction code categories used for recommended-action lookup and
// corporate-action detection.
var (
	incomeCodes = map[string]bool{"DIV": true, "INT": true}
	tradeCodes  = map[string]bool{"BUY": true, "SELL": true}

	// CorporateActionCodes is the fixed code set whose presence in a feed
	// triggers the corporate-action specialist.
	CorporateActionCodes = map[string]bool{
		"SPLIT": true, "SPINOFF": true, "CALL": true, "MAT": true, "MERGER": true,
	}
)

// IsCorporateAction reports whether the trans code is a corporate action.
func IsCorporateAction(code string) bool {
	return CorporateActionCodes[code]
}

// OrphanAction recommends a follow-up for an orphan transaction, keyed by
// trans-code category.
func OrphanAction(transCode string) string {
	switch {
	case incomeCodes[transCode]:
		return "Check income event timing - likely booking date difference"
	case tradeCodes[transCode]:
		return "Verify trade feed completeness - may be missing from incumbent"
	case CorporateActionCodes[transCode]:
		return "Invoke corporate action specialist - CA processing difference likely"
	default:
		return "Manual investigation required"
	}
}

// DiffAction recommends a follow-up for an amount difference on a matched
// transaction pair.
func DiffAction(transCode string) string {
	switch {
	case incomeCodes[transCode]:
		return "Invoke accrual specialist - check rate and day count inputs"
	case tradeCodes[transCode]:
		return "Check pricing and FX rates at time of trade"
	default:
		return "Compare transaction details field by field"
	}
}
