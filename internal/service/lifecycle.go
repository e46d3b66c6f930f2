package service

import (
	"errors"
	"sort"
	"time"

	"levelup-loyalty/internal/models"

	"github.com/google/uuid"
)

// Legal status moves per order kind. Anything not listed is refused.
var (
	redemptionTransitions = map[string][]string{
		models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled},
		models.StatusConfirmed: {models.StatusShipped, models.StatusCancelled},
		models.StatusShipped:   {models.StatusDelivered},
	}

	purchaseTransitions = map[string][]string{
		models.StatusPending:    {models.StatusProcessing, models.StatusCancelled, models.StatusRejected},
		models.StatusProcessing: {models.StatusShipped, models.StatusCancelled, models.StatusRejected},
		models.StatusShipped:    {models.StatusDelivered},
	}
)

func canTransition(table map[string][]string, from, to string) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// restitutes reports whether entering status reverses the order's points and stock
func restitutes(status string) bool {
	return status == models.StatusCancelled || status == models.StatusRejected
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// rejectReason is the metrics label for a failed operation
func rejectReason(err error) string {
	var de *models.DomainError
	if errors.As(err, &de) {
		return string(de.Code)
	}
	return "error"
}

func sortNewestFirst[T any](items []T, created func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return created(items[i]).After(created(items[j]))
	})
}
