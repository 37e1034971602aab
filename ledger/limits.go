/*
limits.go - Daily-earn and holding-cap computation (the Limit Policy Enforcer)

PURPOSE:
  Given a proposed credit, computes how much of it is actually creditable
  to the circulating balance today, and how much overflows into the
  "piggy bank" (recorded but excluded from circulation).

RULES:
  - When PointLimitEnabled is false, the full amount is always creditable.
  - Daily cap: an account may earn at most DailyEarnCap circulating points
    per calendar day. The counter resets when the day key changes.
  - Holding cap: the circulating balance may not exceed HoldingCap.
  - Whatever the caps carve off is NOT lost: it is recorded as an entry
    flagged ExcludedFromCirculation.

  This component is pure - it never touches the store. Every reward-
  granting operation consults it before calling Credit.

EXAMPLE (the canonical capping case):
  DailyEarnCap=15, HoldingCap=25, balance=20, credit of 10
  -> 5 visible (balance becomes 25), 5 into the piggy bank.
*/
package ledger

import "time"

// =============================================================================
// CREDIT PLAN
// =============================================================================

// CreditPlan is the enforcer's verdict on a proposed credit.
type CreditPlan struct {
	// Credited is the circulating portion.
	Credited int64

	// Overflow is the piggy-bank portion (ExcludedFromCirculation).
	Overflow int64

	// DailyEarned / DailyEarnedDate are the account's updated daily-earn
	// fields after this credit.
	DailyEarned     int64
	DailyEarnedDate string
}

// PlanCredit computes the creditable split for amount under the settings'
// caps. amount must already be validated positive.
func PlanCredit(acct *Account, amount int64, s Settings, now time.Time) CreditPlan {
	day := DayKey(now)
	earnedToday := acct.DailyEarnedOn(day)

	if !s.PointLimitEnabled {
		return CreditPlan{
			Credited:        amount,
			Overflow:        0,
			DailyEarned:     earnedToday + amount,
			DailyEarnedDate: day,
		}
	}

	credited := amount

	if room := s.DailyEarnCap - earnedToday; credited > room {
		credited = room
	}
	if room := s.HoldingCap - acct.Balance; credited > room {
		credited = room
	}
	if credited < 0 {
		credited = 0
	}

	return CreditPlan{
		Credited:        credited,
		Overflow:        amount - credited,
		DailyEarned:     earnedToday + credited,
		DailyEarnedDate: day,
	}
}
