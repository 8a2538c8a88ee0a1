package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const streamHeartbeat = 15 * time.Second

// StreamOutput godoc
// @Summary Live session output
// @Description Server-sent events carrying stdout, stderr and exit chunks of the session's executions.
// @Description Output produced while nobody is subscribed is not replayed.
// @Tags sessions
// @Produce text/event-stream
// @Param sessionId path string true "Session ID"
// @Success 200 {object} models.OutputChunk
// @Router /sessions/{sessionId}/stream [get]
func (h *SandboxHandler) StreamOutput(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if sessionID == "" {
		return badRequest(c, "sessionId is required")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.sandbox.Subscribe(sessionID)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		fmt.Fprintf(w, ": subscribed to %s\n\n", sessionID)
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case chunk, ok := <-sub.C:
				if !ok {
					return
				}
				data, _ := json.Marshal(chunk)
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", chunk.Seq, chunk.Stream, data)
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			// A failed flush means the client went away.
			if err := w.Flush(); err != nil {
				log.Debug().Str("session_id", sessionID).Uint64("dropped", sub.Dropped()).Msg("stream client disconnected")
				return
			}
		}
	}))
	return nil
}
