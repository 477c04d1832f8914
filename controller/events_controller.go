package controller

import (
	"fmt"
	"time"

	"github.com/Itish41/IAOMS/realtime"
	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps proxies from closing idle streams.
var heartbeatInterval = 30 * time.Second

// EventsController streams domain events to the browser over SSE.
type EventsController struct {
	hub *realtime.Hub
}

func NewEventsController(hub *realtime.Hub) *EventsController {
	return &EventsController{hub: hub}
}

// Stream handles GET /events?token=xxx
func (ec *EventsController) Stream(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	clientID := fmt.Sprintf("%s_%d", user.ID, time.Now().UnixNano())
	client := &realtime.Client{
		ID:     clientID,
		UserID: user.ID,
		Events: make(chan realtime.Event, 64),
	}
	ec.hub.Register(client)

	ctx.Writer.Header().Set("Content-Type", "text/event-stream")
	ctx.Writer.Header().Set("Cache-Control", "no-cache")
	ctx.Writer.Header().Set("Connection", "keep-alive")
	ctx.Writer.Header().Set("X-Accel-Buffering", "no")

	ctx.Writer.WriteString("event: connected\ndata: {\"client_id\":\"" + clientID + "\"}\n\n")
	ctx.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	clientGone := ctx.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			ec.hub.Unregister(clientID)
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			ctx.Writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType, event.Data))
			ctx.Writer.Flush()
		case <-heartbeat.C:
			ctx.Writer.WriteString(": keepalive\n\n")
			ctx.Writer.Flush()
		}
	}
}
