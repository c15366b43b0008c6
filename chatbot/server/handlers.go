package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness"
	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/sse"
	"github.com/gin-gonic/gin"
)

const welcomeMessage = "Welcome to the Chatbot API!"

// keepAliveFrame is an SSE comment; EventSource clients ignore it.
const keepAliveFrame = ": keep-alive\n\n"

type chatRequest struct {
	SessionID string `json:"session_id" form:"session_id"`
	Question  string `json:"question" form:"question"`
}

type historyResponse struct {
	SessionID string       `json:"session_id"`
	Turns     []ports.Turn `json:"turns"`
}

func (s *Server) handleWelcome(c *gin.Context) {
	c.String(http.StatusOK, welcomeMessage)
}

func (s *Server) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "API is working", "status": "success"})
}

func (s *Server) handleRefreshSession(c *gin.Context) {
	id := s.orchestrator.Sessions().CreateSession()
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

// handleStream answers with text/event-stream. Errors found before the first
// frame are plain JSON responses; later failures end the stream with an error event.
func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Query("session_id")
	question := c.Query("question")

	chunks, err := s.orchestrator.Stream(ctx, sessionID, question)
	if err != nil {
		s.writeError(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	frames := sse.NewEncoder(s.streamPacing()).Encode(ctx, chunks)

	var heartbeat <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	write := func(frame string) bool {
		if _, err := c.Writer.WriteString(frame); err != nil {
			s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("Client went away mid-stream")
			return false
		}
		c.Writer.Flush()
		return true
	}

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if !write(string(frame)) {
				return
			}
		case <-heartbeat:
			if !write(keepAliveFrame) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}

	resp, err := s.orchestrator.Complete(c.Request.Context(), req.SessionID, req.Question)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID, "answer": resp.Text})
}

func (s *Server) handleHistory(c *gin.Context) {
	sessionID := c.Query("session_id")
	turns, err := s.orchestrator.History(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponse{SessionID: sessionID, Turns: turns})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.orchestrator.Evict(c.Request.Context(), c.Query("session_id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps orchestrator errors onto status codes and client-safe messages.
func (s *Server) writeError(c *gin.Context, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, harness.ErrNoActiveSession):
		status, message = http.StatusUnauthorized, "No active session"
	case errors.Is(err, harness.ErrNoQuestion):
		status, message = http.StatusPaymentRequired, "No question provided"
	case errors.Is(err, harness.ErrUnknownSession):
		status, message = http.StatusUnauthorized, "Unknown session"
	case errors.Is(err, ports.ErrRateLimited):
		status, message = http.StatusTooManyRequests, "Rate limit exceeded"
	case errors.Is(err, harness.ErrShuttingDown):
		status, message = http.StatusServiceUnavailable, "Server is shutting down"
	case errors.Is(err, ports.ErrEngineTimeout), errors.Is(err, ports.ErrEngineUnavailable):
		status, message = http.StatusBadGateway, sse.ErrorMessage(err)
	case errors.Is(err, context.Canceled):
		// Client is gone; nobody reads the body.
		c.Abort()
		return
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
