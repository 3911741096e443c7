package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/snapshot"
)

// Engine is the alert side of the notification service.
type Engine interface {
	ProcessSignal(ctx context.Context, sig models.Signal) (*models.Alert, error)
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	ListDeliveryAttempts(ctx context.Context, alertID string) ([]models.DeliveryAttempt, error)
	Acknowledge(ctx context.Context, alertID, by string) (models.Alert, bool, error)
	Cancel(ctx context.Context, alertID, reason string) (models.Alert, bool, error)
	Stats(ctx context.Context, since time.Time) (models.AlertStats, error)
	TestContact(ctx context.Context, contactID string) ([]models.DeliveryAttempt, error)
	TestZone(ctx context.Context, zoneID string) ([]models.DeliveryAttempt, error)
}

// ConfigStore reads and edits the engine configuration. Implemented by
// *snapshot.Manager.
type ConfigStore interface {
	Current() *snapshot.Snapshot
	PutThreshold(ctx context.Context, kind string, set models.ThresholdSet) (*snapshot.Snapshot, error)
	DeleteThreshold(ctx context.Context, kind string) (*snapshot.Snapshot, error)
	PutZone(ctx context.Context, zone models.Zone) (*snapshot.Snapshot, error)
	DeleteZone(ctx context.Context, id string) (*snapshot.Snapshot, error)
	PutContact(ctx context.Context, contact models.Contact) (*snapshot.Snapshot, error)
	DeleteContact(ctx context.Context, id string) (*snapshot.Snapshot, error)
	PutSchedule(ctx context.Context, profile models.ScheduleProfile) (*snapshot.Snapshot, error)
	DeleteSchedule(ctx context.Context, key string) (*snapshot.Snapshot, error)
}

// Feed streams alert changes over a websocket. Implemented by *live.Hub.
type Feed interface {
	Serve(w http.ResponseWriter, r *http.Request, zone string) error
}

type Deps struct {
	Engine   Engine
	Config   ConfigStore
	Feed     Feed
	Metrics  http.Handler
	Logger   *logging.Logger
	BasePath string
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(deps.Logger))

	h := NewHandler(deps)
	basePath := deps.BasePath
	if basePath == "" {
		basePath = "/api/v0"
	}
	api := r.Group(basePath)
	{
		// Signals
		api.POST("/signals", h.PostSignal)

		// Alerts
		api.GET("/alerts", h.ListAlerts)
		api.GET("/alerts/stats", h.AlertStats)
		api.GET("/alerts/:id", h.GetAlert)
		api.GET("/alerts/:id/deliveries", h.ListDeliveries)
		api.POST("/alerts/:id/ack", h.AcknowledgeAlert)
		api.POST("/alerts/:id/cancel", h.CancelAlert)

		// Thresholds
		api.GET("/thresholds", h.ListThresholds)
		api.GET("/thresholds/:kind", h.GetThreshold)
		api.PUT("/thresholds/:kind", h.PutThreshold)
		api.DELETE("/thresholds/:kind", h.DeleteThreshold)

		// Zones
		api.GET("/zones", h.ListZones)
		api.GET("/zones/:id", h.GetZone)
		api.PUT("/zones/:id", h.PutZone)
		api.DELETE("/zones/:id", h.DeleteZone)
		api.POST("/zones/:id/test", h.TestZone)

		// Contacts
		api.GET("/contacts", h.ListContacts)
		api.GET("/contacts/:id", h.GetContact)
		api.PUT("/contacts/:id", h.PutContact)
		api.DELETE("/contacts/:id", h.DeleteContact)
		api.POST("/contacts/:id/test", h.TestContact)

		// Schedules
		api.GET("/schedules", h.ListSchedules)
		api.GET("/schedules/:key", h.GetSchedule)
		api.PUT("/schedules/:key", h.PutSchedule)
		api.DELETE("/schedules/:key", h.DeleteSchedule)

		// Live feed
		if deps.Feed != nil {
			api.GET("/ws/alerts", h.LiveAlerts)
		}
	}

	r.GET("/health", h.Health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	return r
}
