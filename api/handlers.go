package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/antiprimes"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readiness(c *gin.Context) {
	if s.seq.WorkerRunning() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	body := gin.H{"status": "not_ready"}
	if err := s.seq.WorkerErr(); err != nil {
		body["error"] = err.Error()
		body["exit_reason"] = antiprimes.ClassifyExit(err).String()
	}
	c.JSON(http.StatusServiceUnavailable, body)
}

func (s *Server) listSequence(c *gin.Context) {
	k := s.opts.HistoryWindow
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'k' parameter (expected non-negative integer)"})
			return
		}
		k = n
	}

	items, err := s.seq.LastK(k)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"k":      k,
		"epoch":  s.seq.Epoch(),
		"length": s.seq.Len(),
		"items":  items,
	})
}

func (s *Server) lastElement(c *gin.Context) {
	last, err := s.seq.Last()
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"last":   last,
		"epoch":  s.seq.Epoch(),
		"length": s.seq.Len(),
	})
}

func (s *Server) computeNext(c *gin.Context) {
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	req, result, err := s.seq.ComputeNext(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": req.ID,
		"result":     result.String(),
		"base":       req.Base,
		"epoch":      req.Epoch,
	})
}

func (s *Server) reset(c *gin.Context) {
	s.seq.Reset()

	c.JSON(http.StatusOK, gin.H{
		"epoch":  s.seq.Epoch(),
		"length": s.seq.Len(),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sequence":       s.seq.Stats(),
		"worker_running": s.seq.WorkerRunning(),
	})
}

// statusFor maps sequence errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, antiprimes.ErrCanceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, antiprimes.ErrWorkerStopped), errors.Is(err, antiprimes.ErrSequenceStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, antiprimes.ErrEmptySequence):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
