package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/internal/gateway/artifact"
)

func (s *Server) adminModelStats(c *gin.Context) {
	stats := s.cache.Stats()
	payload := gin.H{
		"count":  len(stats),
		"models": stats,
		"config": gin.H{
			"gcs_bucket":              s.cfg.GCSBucket,
			"max_concurrent_requests": s.cfg.MaxConcurrent(),
		},
		"requestedBy": requestedBy(c),
	}

	if s.device.Accelerated() {
		free := s.rt.FreeMemoryGB()
		payload["gpu"] = gin.H{
			"name":                s.device.Name,
			"total_memory_gb":     s.device.TotalMemoryGB,
			"free_memory_gb":      free,
			"allocated_memory_gb": s.device.TotalMemoryGB - free,
		}
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) adminUnload(c *gin.Context) {
	name := c.Param("model")
	c.JSON(http.StatusOK, gin.H{
		"model":          name,
		"model_unloaded": s.cache.Unload(name),
		"requestedBy":    requestedBy(c),
	})
}

// adminInvalidateCache drops a model's cached version pin and unloads its
// weights, forcing the next request onto the freshly activated version.
func (s *Server) adminInvalidateCache(c *gin.Context) {
	name := c.Param("model")
	c.JSON(http.StatusOK, gin.H{
		"model":                 name,
		"version_cache_cleared": s.versions.Invalidate(name),
		"model_unloaded":        s.cache.Unload(name),
		"requestedBy":           requestedBy(c),
	})
}

func (s *Server) adminClearVersionCache(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries_cleared": s.versions.ClearAll(),
		"requestedBy":     requestedBy(c),
	})
}

func (s *Server) adminVersionCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.versions.Stats())
}

type prewarmRequest struct {
	ModelIDs []string `json:"model_ids" binding:"required,min=1"`
	Parallel bool     `json:"parallel"`
}

type prewarmResult struct {
	ModelID           string  `json:"model_id"`
	NormalizedModelID string  `json:"normalized_model_id"`
	Status            string  `json:"status"`
	LoadTimeSeconds   float64 `json:"load_time_seconds"`
	Message           string  `json:"message,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// adminPrewarm loads the requested models ahead of traffic, sequentially or
// in parallel.
func (s *Server) adminPrewarm(c *gin.Context) {
	var req prewarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, apierror.New("prewarm", "", apierror.ErrBadRequest))
		return
	}

	start := time.Now()
	results := make([]prewarmResult, len(req.ModelIDs))

	if req.Parallel {
		g, ctx := errgroup.WithContext(c.Request.Context())
		var mu sync.Mutex
		for i, name := range req.ModelIDs {
			i, name := i, name
			g.Go(func() error {
				res := s.prewarmOne(ctx, name)
				mu.Lock()
				results[i] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range req.ModelIDs {
			results[i] = s.prewarmOne(c.Request.Context(), name)
		}
	}

	succeeded := 0
	for _, res := range results {
		if res.Status != "error" {
			succeeded++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results":            results,
		"total":              len(results),
		"succeeded":          succeeded,
		"failed":             len(results) - succeeded,
		"total_time_seconds": time.Since(start).Seconds(),
		"requestedBy":        requestedBy(c),
	})
}

func (s *Server) prewarmOne(ctx context.Context, name string) prewarmResult {
	res := prewarmResult{
		ModelID:           name,
		NormalizedModelID: artifact.Flatten(name),
	}

	if s.cache.IsResident(name) {
		res.Status = "already_loaded"
		res.Message = "model already resident"
		return res
	}

	start := time.Now()
	if _, err := s.cache.GetModel(ctx, name); err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	res.Status = "loaded"
	res.LoadTimeSeconds = time.Since(start).Seconds()
	res.Message = "model loaded"
	return res
}
