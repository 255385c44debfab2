package controller

import (
	"encoding/json"
	"io"
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/common/helper"
	"github.com/orchidlake/llmstudio/common/tracing"
	"github.com/orchidlake/llmstudio/dto"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/monitor"
	"github.com/orchidlake/llmstudio/registry"
	"github.com/orchidlake/llmstudio/service"
)

// ListModules returns the module registry: what task areas exist and how
// each is configured.
func ListModules(c *gin.Context) {
	respondOK(c, registry.Modules())
}

// Chat runs one conversation turn against the module from the route. With
// "stream": true the response is an SSE sequence of text deltas terminated
// by a [DONE] sentinel; otherwise a single JSON result.
func Chat(c *gin.Context) {
	var req dto.ChatRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := dto.Validate(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}

	svcReq := &service.ChatRequest{
		UserId:    c.GetInt(ctxkey.Id),
		Module:    c.GetString(ctxkey.ModuleName),
		Content:   llmmodel.UnifiedContent{Text: req.Text, Files: req.Files},
		Model:     req.Model,
		Params:    req.Params,
		RequestId: c.GetString(helper.RequestIdKey),
	}

	if !req.Stream {
		result, err := chatService.Chat(gmw.Ctx(c), svcReq)
		if err != nil {
			middleware.AbortWithError(c, middleware.StatusFromError(err), err)
			return
		}
		respondOK(c, result)
		return
	}

	streamChat(c, svcReq)
}

// streamChat forwards service deltas as SSE frames. The request context
// cancels when the client disconnects, which aborts the upstream call
// instead of draining it to completion.
func streamChat(c *gin.Context, svcReq *service.ChatRequest) {
	logger := gmw.GetLogger(c)
	done := monitor.StreamStarted()
	defer done()

	setSSEHeaders(c)

	ctx := c.Request.Context()
	deltas := make(chan string, 32)
	type outcome struct {
		res *service.ChatResult
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		res, err := chatService.ChatStream(ctx, svcReq, deltas)
		close(deltas)
		resCh <- outcome{res, err}
	}()

	clientGone := false
	for delta := range deltas {
		if clientGone {
			continue
		}
		if err := writeSSEData(c, dto.StreamChunk{Text: delta}); err != nil {
			logger.Debug("client went away mid-stream",
				tracing.WithTraceID(c, zap.Error(err))...)
			clientGone = true
		}
	}

	out := <-resCh
	if out.err != nil {
		// Turn-preparation failure before any delta went out: report it as
		// the only event so the client is not left with a silent stream.
		if !clientGone {
			_ = writeSSEData(c, dto.StreamChunk{Text: publicStreamError(out.err)})
			writeSSEDone(c)
		}
		logger.Warn("streamed turn failed", zap.Error(out.err))
		return
	}
	if clientGone {
		return
	}
	_ = writeSSEEvent(c, "result", out.res)
	writeSSEDone(c)
}

func publicStreamError(err error) string {
	if perr, ok := llmmodel.AsProviderError(err); ok {
		return perr.Message
	}
	return err.Error()
}

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(c.Writer, "data: "+string(raw)+"\n\n"); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func writeSSEEvent(c *gin.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(c.Writer, "event: "+event+"\ndata: "+string(raw)+"\n\n"); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func writeSSEDone(c *gin.Context) {
	_, _ = io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}
