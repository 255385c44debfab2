package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/common/utils"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/model"
)

const usagePageSize = 20

// GetUsageLogs pages through the caller's own usage rows, newest first.
// ?p= selects the zero-based page.
func GetUsageLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("p"))
	if page < 0 {
		page = 0
	}
	logs, err := model.GetUsageLogs(c.GetInt(ctxkey.Id), page*usagePageSize, usagePageSize)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	respondOK(c, logs)
}

// GetUsageStats aggregates the caller's token consumption. Without query
// parameters it covers the whole account lifetime; ?from=YYYY-MM-DD and
// ?to=YYYY-MM-DD restrict it to a date range (at most one year), and
// ?module= to one module.
func GetUsageStats(c *gin.Context) {
	userId := c.GetInt(ctxkey.Id)
	from, to := c.Query("from"), c.Query("to")

	if from == "" && to == "" {
		stats, err := model.GetUserUsageStats(userId)
		if err != nil {
			middleware.AbortWithError(c, http.StatusInternalServerError, err)
			return
		}
		respondOK(c, stats)
		return
	}

	start, endExclusive, err := utils.NormalizeDateRange(from, to, 366)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	stats, err := model.GetUserUsageStatsRange(userId, start, endExclusive, c.Query("module"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	respondOK(c, stats)
}
