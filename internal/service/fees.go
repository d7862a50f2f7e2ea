package service

import "github.com/shopspring/decimal"

// Split is the fee breakdown of one sale.
type Split struct {
	Amount      decimal.Decimal
	PlatformFee decimal.Decimal
	SellerOwed  decimal.Decimal
}

// ComputeFees rounds the platform fee to cents and leaves the remainder to the seller,
// so PlatformFee + SellerOwed always equals Amount.
func ComputeFees(amount, feeRate decimal.Decimal) Split {
	fee := amount.Mul(feeRate).Round(2)
	return Split{
		Amount:      amount,
		PlatformFee: fee,
		SellerOwed:  amount.Sub(fee),
	}
}
