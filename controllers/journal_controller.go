package controllers

import (
	"net/http"
	"options-market/services"

	"github.com/gin-gonic/gin"
)

// JournalController serves the daily event journal
type JournalController struct {
	journal *services.EventJournal
}

// NewJournalController creates a new journal controller
func NewJournalController(journal *services.EventJournal) *JournalController {
	return &JournalController{
		journal: journal,
	}
}

// HandleListJournals returns the dates that have a journal
// GET /api/v1/journal
func (jc *JournalController) HandleListJournals(c *gin.Context) {
	dates, err := jc.journal.ListAvailableLogs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dates": dates,
		"count": len(dates),
	})
}

// HandleGetJournal returns one day's journal
// GET /api/v1/journal/:date
func (jc *JournalController) HandleGetJournal(c *gin.Context) {
	log, err := jc.journal.GetLogForDate(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, log)
}
