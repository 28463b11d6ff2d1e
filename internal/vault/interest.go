package vault

import (
	"time"

	"github.com/shopspring/decimal"
)

var secondsPerYear = decimal.NewFromInt(365 * 24 * 3600)

// accrueInterest applies simple annual interest to a debt position,
// lazily, from the stored last-accrual timestamp. The accrued amount
// is floored to the asset's smallest unit and capitalized into the
// position; debt only grows between repayments.
func accrueInterest(pos *DebtPosition, rateBps int64, now time.Time) {
	if pos.LastAccrual.IsZero() {
		pos.LastAccrual = now
		return
	}
	elapsed := now.Sub(pos.LastAccrual)
	if elapsed <= 0 {
		return
	}
	if rateBps > 0 && pos.Amount.IsPositive() {
		seconds := decimal.NewFromInt(int64(elapsed / time.Second))
		numerator := pos.Amount.Mul(decimal.NewFromInt(rateBps)).Mul(seconds)
		interest := divFloor(numerator, bpsScale.Mul(secondsPerYear), 0)
		pos.Amount = pos.Amount.Add(interest)
	}
	pos.LastAccrual = now
}
