package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/monitor"
)

// PrometheusMiddleware records request counts, duration and time to first
// response byte per route. The route label uses the gin template path
// (e.g. /api/module/:name/chat) to keep cardinality bounded.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		writer := &firstByteWriter{ResponseWriter: c.Writer, start: start}
		c.Writer = writer

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitor.RecordHTTPRequest(route, c.Request.Method,
			strconv.Itoa(c.Writer.Status()), time.Since(start))
		if !writer.firstByte.IsZero() {
			monitor.RecordFirstByte(route, writer.firstByte.Sub(start))
		}
	}
}

// firstByteWriter wraps gin.ResponseWriter to capture when the response
// actually starts flowing to the client. For streaming responses this is
// the latency a user perceives, which plain request duration hides.
type firstByteWriter struct {
	gin.ResponseWriter
	start     time.Time
	firstByte time.Time
}

func (w *firstByteWriter) mark() {
	if w.firstByte.IsZero() {
		w.firstByte = time.Now()
	}
}

func (w *firstByteWriter) Write(data []byte) (int, error) {
	w.mark()
	return w.ResponseWriter.Write(data)
}

func (w *firstByteWriter) WriteHeader(statusCode int) {
	w.mark()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *firstByteWriter) WriteString(s string) (int, error) {
	w.mark()
	return w.ResponseWriter.WriteString(s)
}
