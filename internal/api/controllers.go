package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type listQuery struct {
	Limit   int    `form:"limit"`
	Account string `form:"account"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	q.Account = strings.TrimSpace(q.Account)
}

type markRequest struct {
	ChannelID int64 `json:"channel_id" binding:"required"`
	MessageID int64 `json:"message_id" binding:"required,gt=0"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status(c.Request.Context()))
}

func (s *Server) getOutcomes(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()
	rows, err := s.DB.ListOutcomes(c.Request.Context(), q.Account, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": rows, "count": len(rows)})
}

func (s *Server) getSignals(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()
	rows, err := s.DB.ListSignals(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": rows, "count": len(rows)})
}

func (s *Server) getLedger(c *gin.Context) {
	snapshot := s.Engine.LedgerSnapshot()
	// JSON object keys must be strings.
	out := make(map[string][]int64, len(snapshot))
	total := 0
	for ch, ids := range snapshot {
		out[strconv.FormatInt(ch, 10)] = ids
		total += len(ids)
	}
	c.JSON(http.StatusOK, gin.H{"channels": out, "total": total})
}

func (s *Server) reloadLedger(c *gin.Context) {
	if err := s.Engine.ReloadLedger(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "RELOAD_FAILED", err.Error())
		return
	}
	log.Printf("api: ledger reloaded by %s", CurrentUserID(c))
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

func (s *Server) markProcessed(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	log.Printf("api: %s marks %d/%d processed", CurrentUserID(c), req.ChannelID, req.MessageID)
	if err := s.Engine.MarkProcessed(c.Request.Context(), req.ChannelID, req.MessageID); err != nil {
		// The mark is held in memory even when the store write fails.
		respondError(c, http.StatusAccepted, "PERSIST_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "marked", "channel_id": req.ChannelID, "message_id": req.MessageID})
}

func (s *Server) unmarkProcessed(c *gin.Context) {
	channel, err := strconv.ParseInt(c.Param("channel"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CHANNEL", "channel must be an integer")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_MESSAGE_ID", "id must be a positive integer")
		return
	}
	log.Printf("⚠️ api: %s unmarks %d/%d, the next scan may replay it", CurrentUserID(c), channel, id)
	if err := s.Engine.UnmarkProcessed(c.Request.Context(), channel, id); err != nil {
		respondError(c, http.StatusInternalServerError, "UNMARK_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unmarked", "channel_id": channel, "message_id": id})
}
