/*
summary.go - Financial summary aggregation

PURPOSE:
  Derives totals from the ledger for a date range. Nothing here is stored;
  every call recomputes from the entries, so the numbers can never drift
  from the ledger.

SIGN RULES:
  INCOME, PRODUCT_SALE   count positive
  EXPENSE, REFUND        count negative

  Balance is the signed sum of every entry. TotalIncome and TotalExpense
  only look at INCOME and EXPENSE rows, so with product sales or refunds
  present, Balance != TotalIncome - TotalExpense. That is intended.

EXAMPLE:
  entries: INCOME 100, EXPENSE 30, PRODUCT_SALE 20
  CalculateBalance  -> 90
  GetSummary        -> income 100, expense 30, balance 90
*/
package cashflow

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Summary is the aggregate view of a period.
type Summary struct {
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
	Balance      decimal.Decimal
	Categories   []CategorySummary
	Period       Period
}

// CategorySummary groups entries by their Category field.
// Income sums the positive types, Expense the negative ones.
type CategorySummary struct {
	Category string
	Income   decimal.Decimal
	Expense  decimal.Decimal
	Balance  decimal.Decimal
}

// Period echoes the requested range. Nil bounds are open.
type Period struct {
	From *time.Time
	To   *time.Time
}

// Aggregator computes balances and summaries over a Store.
type Aggregator struct {
	Store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{Store: store}
}

// CalculateBalance returns the signed sum of all entries in [from, to].
func (a *Aggregator) CalculateBalance(ctx context.Context, from, to *time.Time) (decimal.Decimal, error) {
	entries, err := a.Store.List(ctx, Filter{From: from, To: to})
	if err != nil {
		return decimal.Zero, err
	}
	return Balance(entries), nil
}

// GetSummary returns income, expense, balance and the per-category breakdown.
func (a *Aggregator) GetSummary(ctx context.Context, from, to *time.Time) (Summary, error) {
	entries, err := a.Store.List(ctx, Filter{From: from, To: to})
	if err != nil {
		return Summary{}, err
	}
	s := Summarize(entries)
	s.Period = Period{From: from, To: to}
	return s, nil
}

// Balance is the signed sum of entries.
func Balance(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Signed())
	}
	return total
}

// Summarize aggregates entries without touching a store.
func Summarize(entries []Entry) Summary {
	s := Summary{
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		Balance:      decimal.Zero,
		Categories:   []CategorySummary{},
	}

	byCategory := make(map[string]*CategorySummary)
	for _, e := range entries {
		switch e.Type {
		case TypeIncome:
			s.TotalIncome = s.TotalIncome.Add(e.Amount)
		case TypeExpense:
			s.TotalExpense = s.TotalExpense.Add(e.Amount)
		}
		s.Balance = s.Balance.Add(e.Signed())

		cs, ok := byCategory[e.Category]
		if !ok {
			cs = &CategorySummary{
				Category: e.Category,
				Income:   decimal.Zero,
				Expense:  decimal.Zero,
				Balance:  decimal.Zero,
			}
			byCategory[e.Category] = cs
		}
		if e.Type.Sign() > 0 {
			cs.Income = cs.Income.Add(e.Amount)
		} else {
			cs.Expense = cs.Expense.Add(e.Amount)
		}
		cs.Balance = cs.Balance.Add(e.Signed())
	}

	for _, cs := range byCategory {
		s.Categories = append(s.Categories, *cs)
	}
	sort.Slice(s.Categories, func(i, j int) bool {
		return s.Categories[i].Category < s.Categories[j].Category
	})
	return s
}
