package transport

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"feeder/internal/bundle"
	"feeder/internal/pickup"
)

// Worker is the part of the dispatch server the HTTP layer drives.
type Worker interface {
	OpenSpace(name string) bool
	Enqueue(from string, b *bundle.Bundle) bool
	Pause()
	Unpause()
	IsPaused() bool
	Stats() pickup.Stats
}

type WorkerAPI struct {
	worker Worker
}

func NewWorkerAPI(worker Worker) *WorkerAPI {
	return &WorkerAPI{worker: worker}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *WorkerAPI) RegisterRoutes(router *gin.Engine) {
	api := router.Group(apiPrefix)
	{
		api.POST("/open", a.Open)
		api.POST("/bundles", a.PushBundle)
		api.POST("/pause", a.Pause)
		api.POST("/unpause", a.Unpause)
		api.GET("/status", a.GetStatus)
	}
}

// Open handles a work-available notice from a space.
func (a *WorkerAPI) Open(c *gin.Context) {
	space := strings.TrimSpace(c.PostForm("space"))
	if space == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "space is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"space": space, "opened": a.worker.OpenSpace(space)})
}

// PushBundle queues a bundle sent directly by a space.
func (a *WorkerAPI) PushBundle(c *gin.Context) {
	from := strings.TrimSpace(c.Query("space"))
	b, err := bundle.Decode(c.Request.Body)
	if err != nil {
		log.Warn().Str("space", from).Err(err).Msg("invalid pushed bundle")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bundle"})
		return
	}
	if !a.worker.Enqueue(from, b) {
		log.Warn().Str("space", from).Str("bundle_id", b.ID).Msg("rejecting bundle: queue is full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"bundle_id": b.ID})
}

func (a *WorkerAPI) Pause(c *gin.Context) {
	a.worker.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": a.worker.IsPaused()})
}

func (a *WorkerAPI) Unpause(c *gin.Context) {
	a.worker.Unpause()
	c.JSON(http.StatusOK, gin.H{"paused": a.worker.IsPaused()})
}

func (a *WorkerAPI) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.worker.Stats())
}
