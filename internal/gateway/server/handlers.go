package server

import (
	"encoding/json"
	"net/http"
	goruntime "runtime"

	"github.com/gin-gonic/gin"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/internal/gateway/auth"
	"github.com/inferd-ai/inferd/pkg/openai"
	"github.com/inferd-ai/inferd/pkg/version"
)

// reservedPathSegments are /v1 path segments that are routes, not model
// names.
var reservedPathSegments = map[string]bool{
	"chat":        true,
	"completions": true,
	"models":      true,
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "inferd-gateway",
		"version":  version.String(),
		"platform": goruntime.GOOS + "/" + goruntime.GOARCH,
		"status":   "running",
		"gpu": gin.H{
			"available": s.device.Accelerated(),
			"device":    string(s.device.Kind),
			"name":      s.device.Name,
		},
		"loaded_models": s.cache.List(),
	})
}

func (s *Server) health(c *gin.Context) {
	models := s.cache.List()
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"gpu_available":      s.device.Accelerated(),
		"loaded_models":      models,
		"loaded_model_count": len(models),
	})
}

func (s *Server) listModels(c *gin.Context) {
	names := s.cache.List()
	data := make([]openai.ModelInfo, 0, len(names))
	for _, name := range names {
		data = append(data, openai.ModelInfo{
			ID:      name,
			Object:  openai.ObjectModel,
			Created: s.now().Unix(),
			OwnedBy: "organization",
		})
	}
	c.JSON(http.StatusOK, openai.ModelListResponse{
		Object: openai.ObjectList,
		Data:   data,
	})
}

// pathModel returns the model name embedded in the request path, if the
// route carried one.
func pathModel(c *gin.Context) string {
	name := c.Param("model")
	if reservedPathSegments[name] {
		return ""
	}
	return name
}

// authorizeModel enforces the caller's key scope against the target model.
func (s *Server) authorizeModel(c *gin.Context, model string) bool {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		renderError(c, apierror.ErrAuthMissing)
		return false
	}
	if err := s.auth.Authorize(p, model); err != nil {
		renderError(c, err)
		return false
	}
	return true
}

func (s *Server) chatCompletions(c *gin.Context) {
	var req openai.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, apierror.New("chat", "", apierror.ErrBadRequest))
		return
	}
	if name := pathModel(c); name != "" {
		req.Model = name
	}
	if !s.authorizeModel(c, req.Model) {
		return
	}

	if req.Stream {
		stream := newSSEWriter(c)
		err := s.generator.ChatStream(c.Request.Context(), &req, func(chunk openai.ChatCompletionChunk) error {
			return stream.send(chunk)
		})
		stream.finish(err)
		return
	}

	resp, err := s.generator.Chat(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) completions(c *gin.Context) {
	var req openai.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, apierror.New("complete", "", apierror.ErrBadRequest))
		return
	}
	if name := pathModel(c); name != "" {
		req.Model = name
	}
	if !s.authorizeModel(c, req.Model) {
		return
	}

	if req.Stream {
		stream := newSSEWriter(c)
		err := s.generator.CompleteStream(c.Request.Context(), &req, func(chunk openai.CompletionChunk) error {
			return stream.send(chunk)
		})
		stream.finish(err)
		return
	}

	resp, err := s.generator.Complete(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// sseWriter writes server-sent event frames for streamed completions.
type sseWriter struct {
	c       *gin.Context
	started bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

// send writes one data frame. Headers go out with the first frame, so an
// error before any frame can still be rendered as JSON.
func (w *sseWriter) send(payload any) error {
	if !w.started {
		h := w.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.c.Writer.WriteHeader(http.StatusOK)
		w.started = true
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.c.Writer.Write([]byte("data: " + string(raw) + "\n\n")); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// finish terminates the stream: a clean run gets the [DONE] frame, a failure
// before the first frame gets a JSON error, and a mid-stream failure just
// drops the connection.
func (w *sseWriter) finish(err error) {
	if err == nil {
		if w.started {
			_, _ = w.c.Writer.Write([]byte("data: [DONE]\n\n"))
			w.c.Writer.Flush()
		}
		return
	}
	if !w.started {
		renderError(w.c, err)
	}
}
