package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"outreach/internal/campaign"
	"outreach/internal/phone"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

// Engine is the part of the campaign engine the API exposes.
type Engine interface {
	Status() campaign.Status
	Snapshot() campaign.Snapshot
	Contact(c campaign.ContactID) (campaign.ContactView, error)
	Chats() []campaign.ChatSummary
	ChatHistory(c campaign.ContactID) (campaign.Chat, error)
	MarkChatRead(ctx context.Context, c campaign.ContactID) error
	TogglePin(ctx context.Context, c campaign.ContactID) (bool, error)
	Templates() campaign.Templates
	UpdateMessageTemplates(ctx context.Context, msgs map[string]string) error
	UpdateQuickReplies(ctx context.Context, items []campaign.QuickReply) error
	CreateOrReplaceAgenda(ctx context.Context, c campaign.ContactID, appt time.Time, details map[string]string) (campaign.Agenda, error)
	CancelAgenda(ctx context.Context, c campaign.ContactID) error
	CreateScheduledStart(ctx context.Context, c campaign.ContactID, fireAt time.Time, text string) error
	CancelScheduledStart(ctx context.Context, c campaign.ContactID) error
	PauseContact(ctx context.Context, c campaign.ContactID) error
	BlockContact(ctx context.Context, c campaign.ContactID, reason string) error
	MarkAsPostSaleClient(ctx context.Context, c campaign.ContactID) error
	SendNow(ctx context.Context, c campaign.ContactID, text string) error
	SendConfirmation(ctx context.Context, c campaign.ContactID) error
}

type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

const (
	actor          = "api"
	msgInvalidBody = "invalid request body"
	maxAuditLimit  = 500
)

type agendaRequest struct {
	AppointmentAt    time.Time         `json:"appointment_at" binding:"required"`
	Details          map[string]string `json:"details"`
	SendConfirmation bool              `json:"send_confirmation"`
}

type scheduleRequest struct {
	FireAt time.Time `json:"fire_at" binding:"required"`
	Text   string    `json:"text" binding:"max=4096"`
}

type blockRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

type sendRequest struct {
	Text string `json:"text" binding:"required,max=4096"`
}

type quickRepliesRequest struct {
	Items []campaign.QuickReply `json:"items" binding:"dive"`
}

// Handler builds the router for cfg. Exposed for tests.
func (s *Service) Handler(cfg Config) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(s.log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	h := &handler{eng: s.eng, audit: s.audit, region: cfg.Region}
	if h.region == "" {
		h.region = phone.DefaultRegion
	}
	v1 := r.Group("/api/v1", bearerAuth(cfg.Token))
	v1.GET("/status", h.status)
	v1.GET("/snapshot", h.snapshot)
	v1.GET("/audit", h.auditLog)

	v1.GET("/templates", h.templates)
	v1.PUT("/templates", h.updateTemplates)
	v1.PUT("/quick-replies", h.updateQuickReplies)

	v1.GET("/chats", h.chats)
	v1.GET("/chats/:phone", h.chat)
	v1.POST("/chats/:phone/read", h.markRead)
	v1.POST("/chats/:phone/pin", h.togglePin)

	ct := v1.Group("/contacts/:phone")
	ct.GET("", h.contact)
	ct.PUT("/agenda", h.createAgenda)
	ct.DELETE("/agenda", h.cancelAgenda)
	ct.PUT("/schedule", h.createSchedule)
	ct.DELETE("/schedule", h.cancelSchedule)
	ct.POST("/pause", h.pause)
	ct.POST("/block", h.block)
	ct.POST("/client", h.client)
	ct.POST("/send", h.send)
	ct.POST("/confirm", h.confirm)
	return r
}

func bearerAuth(token string) gin.HandlerFunc {
	tok := []byte(strings.TrimSpace(token))
	return func(c *gin.Context) {
		if len(tok) == 0 {
			c.Next()
			return
		}
		got, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), tok) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			writeError(c, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		c.Next()
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request failed", append(fields, logx.Strings("errors", c.Errors.Errors()))...)
			return
		}
		log.Debug("request", fields...)
	}
}

type handler struct {
	eng    Engine
	audit  AuditReader
	region string
}

func (h *handler) ctx(c *gin.Context) context.Context {
	return campaign.WithActor(c.Request.Context(), actor)
}

// contactParam reads :phone. It writes the 400 itself on failure.
func (h *handler) contactParam(c *gin.Context) (campaign.ContactID, bool) {
	id, err := phone.Normalize(c.Param("phone"), h.region)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid phone number", c.Param("phone"))
		return "", false
	}
	return campaign.ContactID(id), true
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, msgInvalidBody, err.Error())
		return false
	}
	return true
}

func (h *handler) status(c *gin.Context)    { ok(c, h.eng.Status()) }
func (h *handler) snapshot(c *gin.Context)  { ok(c, h.eng.Snapshot()) }
func (h *handler) templates(c *gin.Context) { ok(c, h.eng.Templates()) }
func (h *handler) chats(c *gin.Context)     { ok(c, h.eng.Chats()) }

func (h *handler) auditLog(c *gin.Context) {
	if h.audit == nil {
		ok(c, []storage.AuditEntry{})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxAuditLimit {
			writeError(c, http.StatusBadRequest, fmt.Sprintf("limit must be 1..%d", maxAuditLimit), nil)
			return
		}
		limit = n
	}
	entries, err := h.audit.RecentAudit(c.Request.Context(), limit)
	if handleError(c, err) {
		return
	}
	ok(c, entries)
}

func (h *handler) updateTemplates(c *gin.Context) {
	var msgs map[string]string
	if !bind(c, &msgs) {
		return
	}
	if handleError(c, h.eng.UpdateMessageTemplates(h.ctx(c), msgs)) {
		return
	}
	ok(c, h.eng.Templates())
}

func (h *handler) updateQuickReplies(c *gin.Context) {
	var req quickRepliesRequest
	if !bind(c, &req) {
		return
	}
	if handleError(c, h.eng.UpdateQuickReplies(h.ctx(c), req.Items)) {
		return
	}
	ok(c, h.eng.Templates().QuickReplies)
}

func (h *handler) chat(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	ch, err := h.eng.ChatHistory(id)
	if handleError(c, err) {
		return
	}
	ok(c, ch)
}

func (h *handler) markRead(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	if handleError(c, h.eng.MarkChatRead(h.ctx(c), id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) togglePin(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	pinned, err := h.eng.TogglePin(h.ctx(c), id)
	if handleError(c, err) {
		return
	}
	ok(c, gin.H{"pinned": pinned})
}

func (h *handler) contact(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	v, err := h.eng.Contact(id)
	if handleError(c, err) {
		return
	}
	ok(c, v)
}

func (h *handler) createAgenda(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	var req agendaRequest
	if !bind(c, &req) {
		return
	}
	ctx := h.ctx(c)
	a, err := h.eng.CreateOrReplaceAgenda(ctx, id, req.AppointmentAt, req.Details)
	if handleError(c, err) {
		return
	}
	resp := gin.H{"agenda": a}
	if req.SendConfirmation {
		// The agenda stands even when the confirmation could not go out.
		if err := h.eng.SendConfirmation(ctx, id); err != nil {
			resp["confirmation_error"] = err.Error()
		} else {
			resp["confirmation_sent"] = true
		}
	}
	ok(c, resp)
}

func (h *handler) createSchedule(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	var req scheduleRequest
	if !bind(c, &req) {
		return
	}
	if handleError(c, h.eng.CreateScheduledStart(h.ctx(c), id, req.FireAt, req.Text)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) block(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	var req blockRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	if handleError(c, h.eng.BlockContact(h.ctx(c), id, req.Reason)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) send(c *gin.Context) {
	id, found := h.contactParam(c)
	if !found {
		return
	}
	var req sendRequest
	if !bind(c, &req) {
		return
	}
	if handleError(c, h.eng.SendNow(h.ctx(c), id, req.Text)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// contactAction adapts a contact-only engine call into a 204 handler.
func (h *handler) contactAction(fn func(ctx context.Context, id campaign.ContactID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, found := h.contactParam(c)
		if !found {
			return
		}
		if handleError(c, fn(h.ctx(c), id)) {
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *handler) cancelAgenda(c *gin.Context) { h.contactAction(h.eng.CancelAgenda)(c) }
func (h *handler) cancelSchedule(c *gin.Context) {
	h.contactAction(h.eng.CancelScheduledStart)(c)
}
func (h *handler) pause(c *gin.Context)   { h.contactAction(h.eng.PauseContact)(c) }
func (h *handler) client(c *gin.Context)  { h.contactAction(h.eng.MarkAsPostSaleClient)(c) }
func (h *handler) confirm(c *gin.Context) { h.contactAction(h.eng.SendConfirmation)(c) }
