package controller

import (
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/common/helper"
	"github.com/orchidlake/llmstudio/dto"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/monitor"
	"github.com/orchidlake/llmstudio/service"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth already ran via the cookie session; cross-origin pages cannot
	// read the cookie, so origin checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// ChatWS is the websocket chat transport: each client frame is one user
// turn, answered by a sequence of delta frames and one done frame. Frames
// for one turn are fully delivered before the next turn is read.
func ChatWS(c *gin.Context) {
	logger := gmw.GetLogger(c)
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	userId := c.GetInt(ctxkey.Id)
	moduleName := c.GetString(ctxkey.ModuleName)
	requestId := c.GetString(helper.RequestIdKey)

	for {
		var msg dto.WSClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		svcReq := &service.ChatRequest{
			UserId:    userId,
			Module:    moduleName,
			Content:   llmmodel.UnifiedContent{Text: msg.Text, Files: msg.Files},
			Model:     msg.Model,
			Params:    msg.Params,
			RequestId: requestId,
		}

		if err := runWSTurn(c, conn, svcReq); err != nil {
			logger.Warn("websocket turn aborted", zap.Error(err))
			return
		}
	}
}

// runWSTurn streams one turn over the socket. A returned error means the
// socket itself is broken and the caller should close up.
func runWSTurn(c *gin.Context, conn *websocket.Conn, svcReq *service.ChatRequest) error {
	done := monitor.StreamStarted()
	defer done()

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

	var wsErr error
	for delta := range deltas {
		if wsErr != nil {
			continue // drain so the service goroutine never blocks
		}
		wsErr = writeWSMessage(conn, dto.WSServerMessage{Type: "delta", Text: delta})
	}

	out := <-resCh
	if wsErr != nil {
		return wsErr
	}
	if out.err != nil {
		return writeWSMessage(conn, dto.WSServerMessage{Type: "done", Error: publicStreamError(out.err)})
	}
	return writeWSMessage(conn, dto.WSServerMessage{Type: "done", Result: out.res})
}

func writeWSMessage(conn *websocket.Conn, msg dto.WSServerMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
