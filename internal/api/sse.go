package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sseBufferSize   = 64
	sseKeepAliveGap = 25 * time.Second
)

// streamEvents serves the per-user Server-Sent Events stream. The connection
// stays open until the client goes away; periodic comment frames keep
// intermediate proxies from timing it out.
func (s *Server) streamEvents(c *gin.Context) {
	userID := CurrentUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	events, unsub := s.Bus.Subscribe(userID, sseBufferSize)
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"node_id\":%q}\n\n", s.NodeID)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAliveGap)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(env.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", env.Type, data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
