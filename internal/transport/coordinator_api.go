package transport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"feeder/internal/bundle"
	"feeder/internal/coordinator"
)

// Coordinator is the part of the coordinator the HTTP layer drives.
type Coordinator interface {
	Take(workerID string) *bundle.Bundle
	BundleCompleted(workerID, bundleID string, success bool) bool
	PendingBundles() []*bundle.Bundle
	Status() coordinator.Status
	Stop()
}

// Registrar accepts worker arrivals and departures.
type Registrar interface {
	Registered(key string) bool
	Deregistered(key string) bool
}

type completedResponse struct {
	Known bool `json:"known"`
}

type workerResponse struct {
	Worker   string `json:"worker"`
	Accepted bool   `json:"accepted"`
}

type CoordinatorAPI struct {
	coord   Coordinator
	workers Registrar
}

func NewCoordinatorAPI(coord Coordinator, workers Registrar) *CoordinatorAPI {
	return &CoordinatorAPI{coord: coord, workers: workers}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *CoordinatorAPI) RegisterRoutes(router *gin.Engine) {
	api := router.Group(apiPrefix)
	{
		api.POST("/take", a.Take)
		api.POST("/completed", a.Completed)
		api.POST("/workers", a.AddWorker)
		api.DELETE("/workers", a.RemoveWorker)
		api.GET("/status", a.GetStatus)
		api.GET("/pending", a.GetPending)
		api.POST("/stop", a.Stop)
	}
}

func workerParam(c *gin.Context) string {
	if w := c.PostForm("worker"); w != "" {
		return strings.TrimSpace(w)
	}
	return strings.TrimSpace(c.Query("worker"))
}

// Take hands the calling worker its next bundle, empty when there is none.
func (a *CoordinatorAPI) Take(c *gin.Context) {
	worker := workerParam(c)
	if worker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker is required"})
		return
	}
	data, err := a.coord.Take(worker).MarshalBinary()
	if err != nil {
		log.Error().Str("worker", worker).Err(err).Msg("failed to encode bundle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode bundle"})
		return
	}
	c.Data(http.StatusOK, contentTypeBundle, data)
}

// Completed records a worker's outcome for a bundle.
func (a *CoordinatorAPI) Completed(c *gin.Context) {
	worker := workerParam(c)
	id := strings.TrimSpace(c.PostForm("bundle_id"))
	if worker == "" || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker and bundle_id are required"})
		return
	}
	success, err := strconv.ParseBool(c.DefaultPostForm("success", "false"))
	if err != nil {
		log.Warn().Str("worker", worker).Str("bundle_id", id).Err(err).Msg("invalid completion notice")
		c.JSON(http.StatusBadRequest, gin.H{"error": "success must be a boolean"})
		return
	}
	c.JSON(http.StatusOK, completedResponse{Known: a.coord.BundleCompleted(worker, id, success)})
}

func (a *CoordinatorAPI) AddWorker(c *gin.Context) {
	worker := workerParam(c)
	if worker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker is required"})
		return
	}
	c.JSON(http.StatusOK, workerResponse{Worker: worker, Accepted: a.workers.Registered(worker)})
}

func (a *CoordinatorAPI) RemoveWorker(c *gin.Context) {
	worker := workerParam(c)
	if worker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker is required"})
		return
	}
	c.JSON(http.StatusOK, workerResponse{Worker: worker, Accepted: a.workers.Deregistered(worker)})
}

func (a *CoordinatorAPI) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.coord.Status())
}

// GetPending lists bundles handed out but not yet acknowledged.
func (a *CoordinatorAPI) GetPending(c *gin.Context) {
	data, err := bundle.PendingXML(a.coord.PendingBundles())
	if err != nil {
		log.Error().Err(err).Msg("failed to render pending bundles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render pending"})
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", data)
}

// Stop ends collection. Queued bundles are still handed out and the
// coordinator finishes once outbound and pending have drained.
func (a *CoordinatorAPI) Stop(c *gin.Context) {
	log.Info().Str("client_ip", c.ClientIP()).Msg("stop requested")
	a.coord.Stop()
	c.JSON(http.StatusAccepted, gin.H{"stopping": true})
}
