package common

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common/ctxkey"
)

// GetRequestBody reads the request body once and caches the bytes on the gin
// context so later consumers do not re-read a drained body.
func GetRequestBody(c *gin.Context) ([]byte, error) {
	if cached, ok := c.Get(ctxkey.KeyRequestBody); ok {
		return cached.([]byte), nil
	}
	requestBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	_ = c.Request.Body.Close()
	c.Set(ctxkey.KeyRequestBody, requestBody)
	return requestBody, nil
}

// UnmarshalBodyReusable decodes the JSON request body into v and restores the
// body so downstream handlers can bind it again.
func UnmarshalBodyReusable(c *gin.Context, v any) error {
	requestBody, err := GetRequestBody(c)
	if err != nil {
		return err
	}

	contentType := c.Request.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/json") {
		if err = json.Unmarshal(requestBody, v); err != nil {
			return errors.Wrap(err, "unmarshal request body")
		}
	} else {
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		if err = c.ShouldBind(v); err != nil {
			return errors.Wrap(err, "bind request body")
		}
	}

	// Reset request body for handlers that read it directly
	c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	return nil
}
