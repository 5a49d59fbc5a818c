package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dsa110/contimg-ingest/internal/queue"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// queueEventPayload is the JSON body of a queue SSE event.
type queueEventPayload struct {
	ID       uint   `json:"id"`
	GroupKey string `json:"group_key"`
	Type     string `json:"type"`
	Detail   string `json:"detail,omitempty"`
}

// handleSSE streams queue transitions as server-sent events. The stream
// starts at the current tail of the event feed, so connecting clients see
// only new activity.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		lastSeenID, err := queue.LastEventID(db)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(3 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				events, err := queue.EventsSince(db, lastSeenID, 100)
				if err != nil || len(events) == 0 {
					continue
				}
				for _, ev := range events {
					lastSeenID = ev.ID
					writeSSE(c.Writer, "queue", queueEventPayload{
						ID:       ev.ID,
						GroupKey: ev.GroupKey,
						Type:     ev.Type,
						Detail:   ev.Detail,
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
