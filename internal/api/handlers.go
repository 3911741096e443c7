package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hazard-alert-service/internal/live"
	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/notification"
	"hazard-alert-service/internal/snapshot"
	"hazard-alert-service/internal/store"
	"hazard-alert-service/internal/threshold"
)

const (
	defaultPageSize  = 100
	maxPageSize      = 1000
	defaultStatsDays = 30
)

type Handler struct {
	engine Engine
	config ConfigStore
	feed   Feed
	logger *logging.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{engine: deps.Engine, config: deps.Config, feed: deps.Feed, logger: deps.Logger}
}

// fail maps domain errors to status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, snapshot.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, snapshot.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, notification.ErrStaleSignal):
		status = http.StatusConflict
	case errors.Is(err, notification.ErrUnknownZone), errors.Is(err, threshold.ErrUnknownParameter):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, notification.ErrNoSnapshot), errors.Is(err, notification.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *Handler) current(c *gin.Context) (*snapshot.Snapshot, bool) {
	snap := h.config.Current()
	if snap == nil {
		h.fail(c, notification.ErrNoSnapshot)
		return nil, false
	}
	return snap, true
}

// Signals

func (h *Handler) PostSignal(c *gin.Context) {
	var sig models.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		h.badRequest(c, err)
		return
	}
	if sig.ObservedAt.IsZero() {
		sig.ObservedAt = time.Now().UTC()
	}
	if err := sig.Validate(); err != nil {
		h.badRequest(c, err)
		return
	}
	alert, err := h.engine.ProcessSignal(c.Request.Context(), sig)
	if err != nil {
		h.fail(c, err)
		return
	}
	if alert == nil {
		c.JSON(http.StatusOK, gin.H{"alert": nil})
		return
	}
	h.logger.Infof("Signal %s raised alert %s", sig.Key(), alert.ID)
	c.JSON(http.StatusCreated, gin.H{"alert": alert})
}

// Alerts

func (h *Handler) ListAlerts(c *gin.Context) {
	filter := models.AlertFilter{
		ZoneID: c.Query("zone_id"),
		Status: models.AlertStatus(c.Query("status")),
		Limit:  defaultPageSize,
	}
	if v := c.Query("severity"); v != "" {
		sev, err := models.ParseSeverity(v)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		filter.Severity = sev
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.badRequest(c, errors.New("since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = since
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		filter.Limit = min(n, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.badRequest(c, errors.New("offset must be a non-negative integer"))
			return
		}
		filter.Offset = n
	}

	alerts, err := h.engine.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Debugf("Retrieved %d alerts", len(alerts))
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) GetAlert(c *gin.Context) {
	alert, err := h.engine.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	attempts, err := h.engine.ListDeliveryAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, attempts)
}

// AlertStats summarises the last ?days= days (default 30) of alert history.
func (h *Handler) AlertStats(c *gin.Context) {
	days := defaultStatsDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.badRequest(c, errors.New("days must be a positive integer"))
			return
		}
		days = n
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := h.engine.Stats(c.Request.Context(), since)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type ackRequest struct {
	By string `json:"by" binding:"required"`
}

func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	alert, applied, err := h.engine.Acknowledge(c.Request.Context(), c.Param("id"), req.By)
	if err != nil {
		h.fail(c, err)
		return
	}
	if applied {
		h.logger.Infof("Alert %s acknowledged by %s", alert.ID, req.By)
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert, "applied": applied})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAlert(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}
	alert, applied, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	if applied {
		h.logger.Infof("Alert %s cancelled: %s", alert.ID, req.Reason)
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert, "applied": applied})
}

// LiveAlerts upgrades to a websocket carrying alert changes, optionally
// narrowed to one zone.
func (h *Handler) LiveAlerts(c *gin.Context) {
	err := h.feed.Serve(c.Writer, c.Request, c.Query("zone_id"))
	if errors.Is(err, live.ErrTooManyConnections) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		// The upgrader has already answered the request.
		h.logger.Warnf("Live feed upgrade failed: %v", err)
	}
}

// Test sends

type testResponse struct {
	Delivered int                      `json:"delivered"`
	Failed    int                      `json:"failed"`
	Attempts  []models.DeliveryAttempt `json:"attempts"`
}

func newTestResponse(attempts []models.DeliveryAttempt) testResponse {
	resp := testResponse{Attempts: attempts}
	if resp.Attempts == nil {
		resp.Attempts = []models.DeliveryAttempt{}
	}
	for _, a := range attempts {
		if a.Outcome == models.OutcomeDelivered {
			resp.Delivered++
		} else {
			resp.Failed++
		}
	}
	return resp
}

// TestContact sends a test notification over every channel of one contact.
func (h *Handler) TestContact(c *gin.Context) {
	attempts, err := h.engine.TestContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := newTestResponse(attempts)
	h.logger.Infof("Test send to contact %s: %d delivered, %d failed", c.Param("id"), resp.Delivered, resp.Failed)
	c.JSON(http.StatusOK, resp)
}

// TestZone sends a test notification to every primary recipient of a zone.
func (h *Handler) TestZone(c *gin.Context) {
	attempts, err := h.engine.TestZone(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := newTestResponse(attempts)
	h.logger.Infof("Test send to zone %s: %d delivered, %d failed", c.Param("id"), resp.Delivered, resp.Failed)
	c.JSON(http.StatusOK, resp)
}

// Configuration

func (h *Handler) ListThresholds(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap.Config().Thresholds)
}

func (h *Handler) GetThreshold(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	set, found := snap.Config().Thresholds[c.Param("kind")]
	if !found {
		h.fail(c, snapshot.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h *Handler) PutThreshold(c *gin.Context) {
	var set models.ThresholdSet
	if err := c.ShouldBindJSON(&set); err != nil {
		h.badRequest(c, err)
		return
	}
	kind := c.Param("kind")
	if _, err := h.config.PutThreshold(c.Request.Context(), kind, set); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Infof("Updated threshold set %s", kind)
	c.JSON(http.StatusOK, set)
}

func (h *Handler) DeleteThreshold(c *gin.Context) {
	h.deleted(c, "threshold set", c.Param("kind"), h.config.DeleteThreshold)
}

func (h *Handler) ListZones(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap.Config().Zones)
}

func (h *Handler) GetZone(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	zone, found := snap.Zone(c.Param("id"))
	if !found {
		h.fail(c, snapshot.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, zone)
}

func (h *Handler) PutZone(c *gin.Context) {
	var zone models.Zone
	if err := c.ShouldBindJSON(&zone); err != nil {
		h.badRequest(c, err)
		return
	}
	if !h.matchID(c, &zone.ID, c.Param("id")) {
		return
	}
	zone.UpdatedAt = time.Now().UTC()
	if _, err := h.config.PutZone(c.Request.Context(), zone); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Infof("Updated zone %s", zone.ID)
	c.JSON(http.StatusOK, zone)
}

func (h *Handler) DeleteZone(c *gin.Context) {
	h.deleted(c, "zone", c.Param("id"), h.config.DeleteZone)
}

func (h *Handler) ListContacts(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	zoneID := c.Query("zone_id")
	out := make([]models.Contact, 0, len(snap.Contacts()))
	for _, contact := range snap.Contacts() {
		if zoneID == "" || contact.InZone(zoneID) {
			out = append(out, contact)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetContact(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	contact, found := snap.Contact(c.Param("id"))
	if !found {
		h.fail(c, snapshot.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) PutContact(c *gin.Context) {
	var contact models.Contact
	if err := c.ShouldBindJSON(&contact); err != nil {
		h.badRequest(c, err)
		return
	}
	if !h.matchID(c, &contact.ID, c.Param("id")) {
		return
	}
	contact.UpdatedAt = time.Now().UTC()
	if _, err := h.config.PutContact(c.Request.Context(), contact); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Infof("Updated contact %s", contact.ID)
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) DeleteContact(c *gin.Context) {
	h.deleted(c, "contact", c.Param("id"), h.config.DeleteContact)
}

func (h *Handler) ListSchedules(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	profiles := append([]models.ScheduleProfile(nil), snap.Schedules()...)
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Key < profiles[j].Key })
	c.JSON(http.StatusOK, profiles)
}

func (h *Handler) GetSchedule(c *gin.Context) {
	snap, ok := h.current(c)
	if !ok {
		return
	}
	key := c.Param("key")
	for _, p := range snap.Schedules() {
		if p.Key == key {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	h.fail(c, snapshot.ErrNotFound)
}

func (h *Handler) PutSchedule(c *gin.Context) {
	var profile models.ScheduleProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		h.badRequest(c, err)
		return
	}
	if !h.matchID(c, &profile.Key, c.Param("key")) {
		return
	}
	profile.UpdatedAt = time.Now().UTC()
	if _, err := h.config.PutSchedule(c.Request.Context(), profile); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Infof("Updated schedule profile %s", profile.Key)
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	h.deleted(c, "schedule profile", c.Param("key"), h.config.DeleteSchedule)
}

// matchID fills an empty body id from the path and rejects a mismatch.
func (h *Handler) matchID(c *gin.Context, bodyID *string, pathID string) bool {
	if *bodyID == "" {
		*bodyID = pathID
	}
	if *bodyID != pathID {
		h.badRequest(c, errors.New("id in body does not match path"))
		return false
	}
	return true
}

func (h *Handler) deleted(c *gin.Context, what, id string, del func(ctx context.Context, id string) (*snapshot.Snapshot, error)) {
	if _, err := del(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Infof("Deleted %s %s", what, id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Health(c *gin.Context) {
	snap := h.config.Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "config_version": snap.Version})
}
