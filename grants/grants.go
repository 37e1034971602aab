/*
Package grants implements the reward and transfer operations: letter
approval, booth/teacher batch grants, and the team-completion bonus.

PURPOSE:
  These are the flows where staff (or the platform itself) hand out
  points that were not bought with a code. Each credit still goes
  through the limit enforcer and lands with an auditable entry.

THREE SHAPES OF ATOMICITY:
  - Letter approval: one transaction covering the status flip and BOTH
    credits, idempotent against double approval.
  - Batch grant: deliberately NOT one transaction. Each target is its
    own atomic unit; one bad ID never sinks the rest, and the caller
    gets a per-target report.
  - Team bonus: one transaction covering the membership append and all
    five credits, guarded so a completed team never pays twice.
*/
package grants

import (
	"context"
	"fmt"
	"time"

	"github.com/lakshop/points-engine/ledger"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store ledger.Store
	Clock func() time.Time
}

func NewEngine(store ledger.Store) *Engine {
	return &Engine{Store: store, Clock: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Result is the common caller-facing shape.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// =============================================================================
// LETTER APPROVAL
// =============================================================================

// ApproveLetter credits both sender and receiver on staff approval.
// Approving an already-approved letter is rejected, never double paid.
func (e *Engine) ApproveLetter(ctx context.Context, letterID string, staffID ledger.AccountID) (*Result, error) {
	var result *Result
	err := ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		now := e.now()

		letter, err := tx.Letter(letterID)
		if err != nil {
			return err
		}
		if letter.Status == ledger.LetterApproved {
			return ledger.ErrAlreadyApproved
		}

		letter.Status = ledger.LetterApproved
		letter.ApprovedBy = staffID
		if err := tx.PutLetter(letter); err != nil {
			return err
		}

		// Each party is capped independently.
		if _, err := ledger.Credit(tx, letter.SenderID, ledger.LetterReward,
			fmt.Sprintf("letter %s approved (sent)", letter.ID), now); err != nil {
			return err
		}
		if _, err := ledger.Credit(tx, letter.ReceiverID, ledger.LetterReward,
			fmt.Sprintf("letter %s approved (received)", letter.ID), now); err != nil {
			return err
		}

		result = &Result{
			Success: true,
			Message: fmt.Sprintf("Letter approved: %d points each to sender and receiver.", ledger.LetterReward),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// BATCH GRANT
// =============================================================================

// BatchReport aggregates the per-target outcomes of a batch grant.
type BatchReport struct {
	SuccessCount int      `json:"successCount"`
	FailCount    int      `json:"failCount"`
	Errors       []string `json:"errors"`
}

// BatchGrant credits each target as an independent mini-transaction.
// Partial success is expected and visible; this is best-effort by
// design, not a saga.
func (e *Engine) BatchGrant(ctx context.Context, targets []ledger.AccountID, amount int64, reason string, actorID ledger.AccountID) (*BatchReport, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	report := &BatchReport{Errors: []string{}}
	for _, target := range targets {
		target := target
		err := ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
			now := e.now()

			settings, err := tx.Settings()
			if err != nil {
				return err
			}

			acct, err := tx.Account(target)
			if err != nil {
				return err
			}
			if err := ledger.EnsureOperational(settings, acct.Role); err != nil {
				return err
			}
			if err := ledger.EnsureActive(acct, now); err != nil {
				return err
			}

			desc := reason
			if desc == "" {
				desc = fmt.Sprintf("grant from %s", actorID)
			}
			_, err = ledger.Credit(tx, target, amount, desc, now)
			return err
		})
		if err != nil {
			report.FailCount++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", target, err))
			continue
		}
		report.SuccessCount++
	}
	return report, nil
}

// =============================================================================
// TEAM COMPLETION BONUS
// =============================================================================

// TeamJoinResult reports the join plus whatever bonus it triggered.
type TeamJoinResult struct {
	Success     bool  `json:"success"`
	Completed   bool  `json:"completed"`
	MemberCount int   `json:"memberCount"`
	Bonus       int64 `json:"bonus,omitempty"`
}

// JoinTeam adds the account to the team. The fifth distinct member
// completes the team and pays every member the completion bonus exactly
// once; re-reading an already-complete team never re-triggers it.
func (e *Engine) JoinTeam(ctx context.Context, accountID ledger.AccountID, teamID string) (*TeamJoinResult, error) {
	var result *TeamJoinResult
	err := ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		now := e.now()

		acct, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if err := ledger.EnsureActive(acct, now); err != nil {
			return err
		}

		team, err := tx.Team(teamID)
		if err != nil {
			return err
		}
		if team.HasMember(accountID) {
			return ledger.ErrAlreadyMember
		}
		if len(team.MemberIDs) >= ledger.TeamSize {
			return ledger.ErrTeamFull
		}

		team.MemberIDs = append(team.MemberIDs, accountID)

		result = &TeamJoinResult{Success: true, MemberCount: len(team.MemberIDs)}

		completed := len(team.MemberIDs) == ledger.TeamSize && !team.BonusPaid
		if completed {
			team.BonusPaid = true
		}
		if err := tx.PutTeam(team); err != nil {
			return err
		}

		// Write the membership before any credit: each Credit re-reads and
		// bumps the member's account row, so a Put of the stale acct copy
		// afterwards would conflict with its own transaction.
		acct.ActiveTeamID = team.ID
		if err := tx.PutAccount(acct); err != nil {
			return err
		}

		if completed {
			for _, member := range team.MemberIDs {
				if _, err := ledger.Credit(tx, member, ledger.TeamCompletionBonus,
					fmt.Sprintf("team %s completed", team.ID), now); err != nil {
					return err
				}
			}
			result.Completed = true
			result.Bonus = ledger.TeamCompletionBonus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateTeam registers an empty team-link record.
func (e *Engine) CreateTeam(ctx context.Context, teamID string) error {
	return ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		if _, err := tx.Team(teamID); err == nil {
			return ledger.ErrTeamExists
		} else if !ledger.IsNotFound(err) {
			return err
		}
		return tx.PutTeam(&ledger.Team{ID: teamID, CreatedAt: e.now()})
	})
}

// SubmitLetter records a pending letter awaiting staff approval.
func (e *Engine) SubmitLetter(ctx context.Context, letterID string, sender, receiver ledger.AccountID) error {
	if sender == receiver {
		return ledger.ErrInvalidTarget
	}
	return ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		if _, err := tx.Account(sender); err != nil {
			return err
		}
		if _, err := tx.Account(receiver); err != nil {
			return err
		}
		return tx.PutLetter(&ledger.Letter{
			ID:         letterID,
			SenderID:   sender,
			ReceiverID: receiver,
			Status:     ledger.LetterPending,
			CreatedAt:  e.now(),
		})
	})
}
