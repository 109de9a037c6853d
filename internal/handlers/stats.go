package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ssebridge/internal/stats"
)

type messageStatFunc func(ctx context.Context, day string, start, end int64) ([]*stats.LogRecord, error)

// GetPubMessageStats 分页查询发布记录
func (h *Handler) GetPubMessageStats(c *gin.Context) {
	h.getMessageStats(c, h.bridge.GetPubMessageStat)
}

// GetSubMessageStats 分页查询接收记录
func (h *Handler) GetSubMessageStats(c *gin.Context) {
	h.getMessageStats(c, h.bridge.GetSubMessageStat)
}

func (h *Handler) getMessageStats(c *gin.Context, query messageStatFunc) {
	day := c.DefaultQuery("day", stats.Today())
	start, ok := h.parseInt64Query(c, "start", 0)
	if !ok {
		return
	}
	end, ok := h.parseInt64Query(c, "end", -1)
	if !ok {
		return
	}

	records, err := query(c.Request.Context(), day, start, end)
	if err != nil {
		h.respondWithStatsError(c, err)
		return
	}

	h.respondWithSuccess(c, gin.H{
		"day":     day,
		"start":   start,
		"end":     end,
		"records": records,
	})
}

// GetConnectStats 查询某天的连接记录
func (h *Handler) GetConnectStats(c *gin.Context) {
	day := c.DefaultQuery("day", stats.Today())

	records, err := h.bridge.GetConnectStat(c.Request.Context(), day)
	if err != nil {
		h.respondWithStatsError(c, err)
		return
	}

	h.respondWithSuccess(c, gin.H{
		"day":      day,
		"channels": records,
	})
}

func (h *Handler) respondWithStatsError(c *gin.Context, err error) {
	if errors.Is(err, stats.ErrInvalidDay) {
		h.respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error().Err(err).Str("path", c.FullPath()).Msg("stats query failed")
	h.respondWithError(c, http.StatusBadGateway, "Failed to query stats")
}
