package ledger

import (
	"time"

	"levelup-loyalty/internal/models"

	"github.com/google/uuid"
)

// NewEntry creates a ledger entry stamped with a fresh id and the current time
func NewEntry(userID, kind string, points int, orderID, orderKind, reason string) models.LedgerEntry {
	return models.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Points:    points,
		OrderID:   orderID,
		OrderKind: orderKind,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// Delta is the signed effect of entry on a balance
func Delta(entry models.LedgerEntry) int {
	switch entry.Kind {
	case models.EntryEarn, models.EntryRefund:
		return entry.Points
	case models.EntrySpend, models.EntryRevoke:
		return -entry.Points
	case models.EntryAdjust:
		return entry.Points
	}
	return 0
}

// Balance folds every entry belonging to userID
func Balance(entries []models.LedgerEntry, userID string) int {
	balance := 0
	for _, e := range entries {
		if e.UserID == userID {
			balance += Delta(e)
		}
	}
	return balance
}

// LifetimeEarned sums points earned by userID, net of revocations.
// Spending does not reduce it.
func LifetimeEarned(entries []models.LedgerEntry, userID string) int {
	total := 0
	for _, e := range entries {
		if e.UserID != userID {
			continue
		}
		switch {
		case e.Kind == models.EntryEarn:
			total += e.Points
		case e.Kind == models.EntryRevoke:
			total -= e.Points
		case e.Kind == models.EntryAdjust && e.Points > 0:
			total += e.Points
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// ForUser returns the entries of userID in ledger order
func ForUser(entries []models.LedgerEntry, userID string) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0)
	for _, e := range entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ForOrder returns the entries referencing orderID
func ForOrder(entries []models.LedgerEntry, orderID string) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0)
	for _, e := range entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}
