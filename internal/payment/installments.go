package payment

import (
	"github.com/frahmantamala/pos-payments/internal"
	"github.com/shopspring/decimal"
)

// InstallmentPolicy prices credit card installments: the first InterestFree
// installments carry no interest, after that the total compounds monthly.
type InstallmentPolicy struct {
	MaxInstallments int
	InterestFree    int
	MonthlyRate     decimal.Decimal
}

func DefaultInstallmentPolicy() InstallmentPolicy {
	return InstallmentPolicy{
		MaxInstallments: 12,
		InterestFree:    6,
		MonthlyRate:     decimal.RequireFromString("0.0199"),
	}
}

func InstallmentPolicyFromConfig(cfg internal.CardConfig) InstallmentPolicy {
	return InstallmentPolicy{
		MaxInstallments: cfg.MaxInstallments,
		InterestFree:    cfg.InterestFreeInstallments,
		MonthlyRate:     decimal.NewFromFloat(cfg.MonthlyInterestRate),
	}
}

type InstallmentQuery struct {
	Amount          decimal.Decimal
	MaxInstallments int
}

type InstallmentOption struct {
	Installments   int             `json:"installments"`
	PerInstallment decimal.Decimal `json:"per_installment"`
	Total          decimal.Decimal `json:"total"`
	HasInterest    bool            `json:"has_interest"`
}

// Rounded returns the option with money rounded to cents.
func (o InstallmentOption) Rounded() InstallmentOption {
	o.PerInstallment = o.PerInstallment.Round(2)
	o.Total = o.Total.Round(2)
	return o
}

// Limit caps the caller supplied maximum at the policy maximum.
func (p InstallmentPolicy) Limit(max int) int {
	if max <= 0 || max > p.MaxInstallments {
		return p.MaxInstallments
	}
	return max
}

// Quote prices a single installment count.
func (p InstallmentPolicy) Quote(amount decimal.Decimal, installments, max int) InstallmentOption {
	free := p.InterestFree
	if max < free {
		free = max
	}
	n := decimal.NewFromInt(int64(installments))
	if installments <= free {
		return InstallmentOption{
			Installments:   installments,
			PerInstallment: amount.Div(n),
			Total:          amount,
		}
	}
	factor := decimal.NewFromInt(1).Add(p.MonthlyRate).Pow(decimal.NewFromInt(int64(installments - p.InterestFree)))
	total := amount.Mul(factor)
	return InstallmentOption{
		Installments:   installments,
		PerInstallment: total.Div(n),
		Total:          total,
		HasInterest:    true,
	}
}

// Options builds the installment menu from 1 to the effective maximum.
func (p InstallmentPolicy) Options(amount decimal.Decimal, max int) []InstallmentOption {
	max = p.Limit(max)
	options := make([]InstallmentOption, 0, max)
	for i := 1; i <= max; i++ {
		options = append(options, p.Quote(amount, i, max))
	}
	return options
}
