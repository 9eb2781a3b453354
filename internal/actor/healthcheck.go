package actor

import (
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health status of an actor
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthMetrics contains health-related metrics for an actor
type HealthMetrics struct {
	MailboxDepth     int           `json:"mailbox_depth"`
	MailboxCapacity  int           `json:"mailbox_capacity"`
	LastActivityTime time.Time     `json:"last_activity_time"`
	Uptime           time.Duration `json:"uptime"`
	ErrorCount       int64         `json:"error_count"`
	LastErrorMsg     string        `json:"last_error_msg,omitempty"`
}

// HealthReport contains the complete health assessment of an actor
type HealthReport struct {
	ActorID   string        `json:"actor_id"`
	Status    HealthStatus  `json:"status"`
	Metrics   HealthMetrics `json:"metrics"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthCheckRequest asks the run loop for a report. It is answered by the
// ref itself, in mailbox order.
type HealthCheckRequest struct {
	ResponseChan chan HealthCheckResponse
}

func (HealthCheckRequest) Type() string {
	return "HealthCheckRequest"
}

// HealthCheckResponse contains the health assessment of an actor
type HealthCheckResponse struct {
	Report HealthReport
}

// HealthReporter lets an actor override the status derived from its mailbox,
// e.g. to report degraded while a dependency is unavailable.
type HealthReporter interface {
	Health() (HealthStatus, string)
}

// HealthCheckable tracks the metrics behind a HealthReport.
type HealthCheckable struct {
	id       string
	mu       sync.RWMutex
	mailbox  chan Message
	reporter HealthReporter

	startTime    time.Time
	lastActivity time.Time
	errorCount   int64
	lastErrorMsg string
}

// NewHealthCheckable creates health tracking for a mailbox. actor may
// implement HealthReporter.
func NewHealthCheckable(id string, mailbox chan Message, actor any) *HealthCheckable {
	h := &HealthCheckable{id: id, mailbox: mailbox}
	if r, ok := actor.(HealthReporter); ok {
		h.reporter = r
	}
	return h
}

func (h *HealthCheckable) markStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startTime = time.Now()
	h.lastActivity = h.startTime
}

// RecordActivity notes that a message was handled.
func (h *HealthCheckable) RecordActivity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = time.Now()
}

// RecordError notes a failed Receive.
func (h *HealthCheckable) RecordError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
	h.lastErrorMsg = err.Error()
}

// GetHealthMetrics returns current health metrics
func (h *HealthCheckable) GetHealthMetrics() HealthMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := HealthMetrics{
		MailboxDepth:     len(h.mailbox),
		MailboxCapacity:  cap(h.mailbox),
		LastActivityTime: h.lastActivity,
		ErrorCount:       h.errorCount,
		LastErrorMsg:     h.lastErrorMsg,
	}
	if !h.startTime.IsZero() {
		m.Uptime = time.Since(h.startTime)
	}
	return m
}

// GenerateHealthReport derives a status from mailbox pressure, then lets the
// actor's HealthReporter take precedence when it reports a problem.
func (h *HealthCheckable) GenerateHealthReport() HealthReport {
	metrics := h.GetHealthMetrics()
	report := HealthReport{
		ActorID:   h.id,
		Status:    HealthStatusHealthy,
		Metrics:   metrics,
		Message:   "ok",
		Timestamp: time.Now(),
	}

	if metrics.MailboxCapacity > 0 {
		usage := float64(metrics.MailboxDepth) / float64(metrics.MailboxCapacity)
		switch {
		case usage >= 0.95:
			report.Status = HealthStatusUnhealthy
			report.Message = fmt.Sprintf("mailbox nearly full (%d/%d)", metrics.MailboxDepth, metrics.MailboxCapacity)
		case usage >= 0.75:
			report.Status = HealthStatusDegraded
			report.Message = fmt.Sprintf("mailbox under pressure (%d/%d)", metrics.MailboxDepth, metrics.MailboxCapacity)
		}
	}

	if h.reporter != nil {
		if status, msg := h.reporter.Health(); status != HealthStatusHealthy && status != "" {
			report.Status = status
			report.Message = msg
		}
	}
	return report
}
