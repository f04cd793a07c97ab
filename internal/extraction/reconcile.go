package extraction

import (
	"github.com/shopspring/decimal"
)

const (
	DefaultIVARate   = 19
	DefaultTolerance = 2
)

// ReconcileInput is everything the reconciliation rules need.
type ReconcileInput struct {
	Amounts   RawAmounts
	DocType   DocumentType
	Rate      int   // IVA percentage, e.g. 19
	Tolerance int64 // largest discrepancy absorbed into IVA
}

// Reconciled is the final monetary breakdown.
type Reconciled struct {
	Net    decimal.NullDecimal
	Exempt decimal.NullDecimal
	Tax    decimal.NullDecimal
	Total  decimal.NullDecimal

	Derived      []Role // amounts computed rather than read
	Adjusted     bool   // a small gap was absorbed into the tax amount
	Inconsistent bool   // the gap exceeded the tolerance and was left alone
}

var one = decimal.NewFromInt(1)

// Reconcile derives missing amounts, rounds half-up to whole pesos, makes
// credit notes negative and closes gaps of at most Tolerance through the
// tax amount. Gaps beyond the tolerance are flagged, never corrected.
func Reconcile(in ReconcileInput) Reconciled {
	rate := in.Rate
	if rate <= 0 {
		rate = DefaultIVARate
	}
	tolerance := in.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	rateFrac := decimal.NewFromInt(int64(rate)).Div(decimal.NewFromInt(100))

	out := Reconciled{
		Net:    in.Amounts.Net,
		Exempt: in.Amounts.Exempt,
		Tax:    in.Amounts.Tax,
		Total:  in.Amounts.Total,
	}
	exempt := valueOrZero(out.Exempt)

	// 1. tax from total and net
	if out.Total.Valid && !out.Tax.Valid && out.Net.Valid {
		tax := out.Total.Decimal.Sub(out.Net.Decimal).Sub(exempt)
		if tax.Abs().LessThan(one) {
			tax = out.Net.Decimal.Mul(rateFrac)
		}
		out.Tax = valid(tax)
		out.Derived = append(out.Derived, RoleTax)
	}

	// 2. net from total
	if !out.Net.Valid && out.Total.Valid {
		if out.Tax.Valid {
			out.Net = valid(out.Total.Decimal.Sub(exempt).Sub(out.Tax.Decimal))
		} else {
			base := out.Total.Decimal.Sub(exempt)
			net := base.Div(one.Add(rateFrac)).Round(0)
			out.Net = valid(net)
			out.Tax = valid(base.Sub(net))
			out.Derived = append(out.Derived, RoleTax)
		}
		out.Derived = append(out.Derived, RoleNet)
	}

	// total from its parts when only the total was missing
	if !out.Total.Valid && out.Net.Valid && out.Tax.Valid {
		out.Total = valid(out.Net.Decimal.Add(exempt).Add(out.Tax.Decimal))
		out.Derived = append(out.Derived, RoleTotal)
	}

	// 3. whole pesos, half-up
	for _, f := range out.fields() {
		if f.Valid {
			f.Decimal = f.Decimal.Round(0)
		}
	}

	// 4. credit notes carry negative amounts
	if in.DocType == NotaCredito {
		for _, f := range out.fields() {
			if f.Valid && f.Decimal.IsPositive() {
				f.Decimal = f.Decimal.Neg()
			}
		}
	}

	// 5. close small gaps through IVA
	if out.Total.Valid && (out.Net.Valid || out.Exempt.Valid || out.Tax.Valid) {
		sum := valueOrZero(out.Net).Add(valueOrZero(out.Exempt)).Add(valueOrZero(out.Tax))
		diff := out.Total.Decimal.Sub(sum)
		switch {
		case diff.IsZero():
		case diff.Abs().LessThanOrEqual(decimal.NewFromInt(tolerance)) && out.Tax.Valid:
			out.Tax.Decimal = out.Tax.Decimal.Add(diff)
			out.Adjusted = true
		default:
			out.Inconsistent = true
		}
	}

	return out
}

func (r *Reconciled) fields() []*decimal.NullDecimal {
	return []*decimal.NullDecimal{&r.Net, &r.Exempt, &r.Tax, &r.Total}
}

// WasDerived reports whether role was computed during reconciliation.
func (r Reconciled) WasDerived(role Role) bool {
	for _, d := range r.Derived {
		if d == role {
			return true
		}
	}
	return false
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func valueOrZero(n decimal.NullDecimal) decimal.Decimal {
	if n.Valid {
		return n.Decimal
	}
	return decimal.Zero
}

// int64Ptr converts a reconciled amount to the flat record representation.
func int64Ptr(n decimal.NullDecimal) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Decimal.IntPart()
	return &v
}
