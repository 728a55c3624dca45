package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/infrastructure/logger"
	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
)

// Timeout bounds the rest of the handler chain to timeout. The chain runs on
// its own goroutine with a deadline-carrying request context and writes into
// a buffer. When the deadline passes first the client gets a 504 and anything
// the handler writes afterwards is dropped. The middleware returns only after
// the handler goroutine has exited, so the gin.Context is never shared with
// the next request.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		requestID := GetRequestID(c)
		path := c.Request.URL.Path
		orig := c.Writer
		tw := newTimeoutWriter(orig)
		c.Writer = tw

		done := make(chan struct{})
		var panicked any
		go func() {
			defer close(done)
			defer func() {
				if p := recover(); p != nil {
					panicked = p
				}
			}()
			c.Next()
			tw.finish()
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if tw.expire() {
				logger.L(ctx).Warn("Request timed out",
					zap.Duration("timeout", timeout),
					zap.String("path", path),
				)
				writeTimeoutResponse(orig, requestID)
			}
			<-done
		}

		c.Writer = orig
		if panicked != nil {
			panic(panicked)
		}
		if !tw.timedOut {
			tw.flushTo(orig)
		}
	}
}

func writeTimeoutResponse(w gin.ResponseWriter, requestID string) {
	body, _ := json.Marshal(dto.NewErrorResponseWithRequestID(dto.ErrCodeTimeout, "request timed out", requestID))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusGatewayTimeout)
	_, _ = w.Write(body)
	w.Flush()
}

// timeoutWriter buffers a response until the handler finishes. It keeps its
// own header map so the handler goroutine never touches the real one.
type timeoutWriter struct {
	gin.ResponseWriter

	mu       sync.Mutex
	header   http.Header
	body     bytes.Buffer
	code     int
	wrote    bool
	timedOut bool
	finished bool
}

func newTimeoutWriter(w gin.ResponseWriter) *timeoutWriter {
	return &timeoutWriter{
		ResponseWriter: w,
		header:         w.Header().Clone(),
	}
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.header
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wrote || code <= 0 {
		return
	}
	tw.code = code
}

func (tw *timeoutWriter) WriteHeaderNow() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	tw.wrote = true
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.wrote = true
	return tw.body.Write(b)
}

func (tw *timeoutWriter) WriteString(s string) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.wrote = true
	return tw.body.WriteString(s)
}

func (tw *timeoutWriter) Status() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.code == 0 {
		return http.StatusOK
	}
	return tw.code
}

func (tw *timeoutWriter) Written() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.wrote
}

func (tw *timeoutWriter) Size() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.wrote {
		return -1
	}
	return tw.body.Len()
}

// Flush is a no-op; the body is released once the handler returns.
func (tw *timeoutWriter) Flush() {}

// finish marks the response complete unless the deadline won the race.
func (tw *timeoutWriter) finish() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.timedOut {
		tw.finished = true
	}
}

// expire switches the writer to discard mode. It returns false when the
// handler had already finished.
func (tw *timeoutWriter) expire() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.finished {
		return false
	}
	tw.timedOut = true
	return true
}

func (tw *timeoutWriter) flushTo(w gin.ResponseWriter) {
	dst := w.Header()
	for k := range dst {
		if _, ok := tw.header[k]; !ok {
			dst.Del(k)
		}
	}
	for k, v := range tw.header {
		dst[k] = v
	}
	if tw.code != 0 {
		w.WriteHeader(tw.code)
	}
	if tw.wrote {
		w.WriteHeaderNow()
		_, _ = w.Write(tw.body.Bytes())
	}
}
