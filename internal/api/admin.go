package api

import (
	"net/http"
	"strconv"
	"time"

	"levelup-loyalty/internal/store"

	"github.com/gin-gonic/gin"
)

const defaultJournalLimit = 50

// journalEntry is the audit view of one committed batch
type journalEntry struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
	Keys      []string  `json:"keys"`
}

// listJournal returns the newest write-ahead entries of the first backend
// that keeps a journal
func (h *Handler) listJournal(c *gin.Context) {
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit",
			})
			return
		}
		limit = n
	}
	if limit > store.JournalRetention {
		limit = store.JournalRetention
	}

	batches, backend, err := h.gw.Journal(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err, "Read journal")
		return
	}

	entries := make([]journalEntry, 0, len(batches))
	for _, b := range batches {
		entries = append(entries, journalEntry{
			ID:        b.ID,
			Reason:    b.Reason,
			CreatedAt: b.CreatedAt,
			Keys:      b.Keys(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"backend": backend,
		"entries": entries,
	})
}
