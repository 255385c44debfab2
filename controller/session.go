package controller

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/dto"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/model"
	"github.com/orchidlake/llmstudio/registry"
)

// sessionView is the API shape of one session: the stored row plus the
// decoded trailing history window.
type sessionView struct {
	*model.ChatSession
	ModuleDefaultModel string                `json:"module_default_model,omitempty"`
	History            []model.StoredMessage `json:"history"`
	TotalMessages      int                   `json:"total_messages"`
}

// GetSession returns the caller's active session for the module, with the
// same trailing history window the next turn would send upstream. The full
// history stays in the store.
func GetSession(c *gin.Context) {
	moduleName := c.GetString(ctxkey.ModuleName)
	session, err := model.GetOrCreateSession(c.GetInt(ctxkey.Id), moduleName)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	history, err := session.LoadHistory()
	if err != nil {
		gmw.GetLogger(c).Error("failed to decode session history",
			zap.Int("session_id", session.Id), zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	total := len(history)
	if limit := config.HistoryWindowMessages; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	view := sessionView{ChatSession: session, History: history, TotalMessages: total}
	if mod, err := registry.ModuleByName(moduleName); err == nil {
		view.ModuleDefaultModel = mod.DefaultModel
	}
	respondOK(c, view)
}

// ResetSession archives the current session so the next access starts a
// fresh one. Nothing is hard-deleted.
func ResetSession(c *gin.Context) {
	session, err := model.GetOrCreateSession(c.GetInt(ctxkey.Id), c.GetString(ctxkey.ModuleName))
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if err := session.Archive(gmw.Ctx(c)); err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	respondOK(c, nil)
}

// SetSessionModel pins the module session to a catalog model; an empty id
// clears the override so the module default applies again.
func SetSessionModel(c *gin.Context) {
	var req dto.SetSessionModelRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := dto.Validate(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	if req.Model != "" {
		if _, err := registry.ModelById(req.Model); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, err)
			return
		}
	}

	session, err := model.GetOrCreateSession(c.GetInt(ctxkey.Id), c.GetString(ctxkey.ModuleName))
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if err := session.SetModelOverride(gmw.Ctx(c), req.Model); err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	respondOK(c, gin.H{"model": req.Model})
}

// ListSessions returns the caller's active sessions across modules,
// optionally filtered with ?module=.
func ListSessions(c *gin.Context) {
	sessions, err := model.ListSessions(c.GetInt(ctxkey.Id), c.Query("module"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	respondOK(c, sessions)
}
