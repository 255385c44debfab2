package controller

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/common/helper"
	"github.com/orchidlake/llmstudio/dto"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/service"
)

// Draw generates one image through the module's image model and returns it
// inline as base64 with decoded dimensions.
func Draw(c *gin.Context) {
	var req dto.DrawRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := dto.Validate(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, err)
		return
	}

	result, err := chatService.Draw(gmw.Ctx(c), &service.DrawRequest{
		UserId:    c.GetInt(ctxkey.Id),
		Module:    c.GetString(ctxkey.ModuleName),
		Prompt:    req.Prompt,
		Model:     req.Model,
		Params:    req.Params,
		RequestId: c.GetString(helper.RequestIdKey),
	})
	if err != nil {
		middleware.AbortWithError(c, middleware.StatusFromError(err), err)
		return
	}
	respondOK(c, result)
}
