package gl

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/pos-ledger/pos"
)

// Loyalty reconciliation differs by region because each state's POS
// deployment encodes loyalty redemptions differently. Missouri writes
// "* Loyalty <n>" discount lines, Illinois "Dutchie Loyalty ...", some
// stores a literal "Loyalty Applied". Florida's "<n> Loyalty Points"
// lines are promotional discounts, not redemptions, and must NOT be
// reclassified.
//
// The rules form an ordered table with first-match-wins semantics per
// discount line. Matching is case-insensitive against both the discount
// reason and the discount name.

type loyaltyClass int

const (
	classDiscount loyaltyClass = iota
	classLoyalty
)

type loyaltyRule struct {
	match func(s string) bool
	class loyaltyClass
}

var loyaltyRules = []loyaltyRule{
	// Florida first: "... loyalty points" would otherwise be shadowed by
	// broader loyalty prefixes.
	{func(s string) bool { return strings.HasSuffix(s, "loyalty points") }, classDiscount},
	{func(s string) bool { return strings.HasPrefix(s, "* loyalty") }, classLoyalty},
	{func(s string) bool { return strings.HasPrefix(s, "dutchie loyalty") }, classLoyalty},
	{func(s string) bool { return strings.HasPrefix(s, "loyalty applied") }, classLoyalty},
}

func classifyLine(line pos.DiscountLine) loyaltyClass {
	for _, field := range []string{line.DiscountReason, line.DiscountName} {
		f := strings.ToLower(strings.TrimSpace(field))
		if f == "" {
			continue
		}
		for _, r := range loyaltyRules {
			if r.match(f) {
				return r.class
			}
		}
	}
	return classDiscount
}

// resolveLoyalty derives the loyalty portion of a transaction's discount
// and how the remaining discount posts.
//
// When the POS loyaltySpent field is populated it wins outright and the
// promotional discount is the remainder (discountTotal - loyalty). Only
// when the field is zero are the discount lines probed; line-derived
// loyalty (the MO/IL encodings) keeps the FULL pre-deduction discount on
// the discount account, matching how those regions' books reconcile.
func resolveLoyalty(t pos.Transaction, discountTotal decimal.Decimal) (loyalty, discount decimal.Decimal) {
	if !t.LoyaltySpent.IsZero() {
		return t.LoyaltySpent, discountTotal.Sub(t.LoyaltySpent)
	}

	lineLoyalty := decimal.Zero
	for _, line := range t.Discounts {
		if classifyLine(line) == classLoyalty {
			lineLoyalty = lineLoyalty.Add(line.Amount)
		}
	}
	if lineLoyalty.IsZero() {
		return decimal.Zero, discountTotal
	}
	return lineLoyalty, discountTotal
}
