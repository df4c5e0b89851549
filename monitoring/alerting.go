// Package monitoring provides alerting capabilities for the RSS feed poller
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeFeedBlocked   AlertType = "feed_blocked"
	AlertTypeHighErrorRate AlertType = "high_error_rate"
	AlertTypeCircuitOpen   AlertType = "circuit_open"
	AlertTypeStoreError    AlertType = "store_error"
)

// Alert represents an alert
type Alert struct {
	ID          string                 `json:"id"`
	Type        AlertType              `json:"type"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	Labels      map[string]string      `json:"labels"`
	Annotations map[string]interface{} `json:"annotations"`
	Resolved    bool                   `json:"resolved"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	Name        string
	Type        AlertType
	Severity    AlertSeverity
	Condition   func() bool
	Title       string
	Description string
	Labels      map[string]string
	Enabled     bool
}

// Notifier interface for sending alert notifications
type Notifier interface {
	Send(alert *Alert) error
	Name() string
}

// LogNotifier sends alerts to the log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string {
	return "log"
}

func (n *LogNotifier) Send(alert *Alert) error {
	level := logrus.InfoLevel
	switch alert.Severity {
	case SeverityHigh:
		level = logrus.WarnLevel
	case SeverityCritical:
		level = logrus.ErrorLevel
	}

	n.logger.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"alert_type":  alert.Type,
		"severity":    alert.Severity,
		"labels":      alert.Labels,
		"annotations": alert.Annotations,
	}).Log(level, fmt.Sprintf("ALERT: %s - %s", alert.Title, alert.Description))

	return nil
}

// AlertManager evaluates rules and dispatches alerts to notifiers
type AlertManager struct {
	alerts    map[string]*Alert
	mutex     sync.RWMutex
	logger    *logrus.Logger
	rules     []AlertRule
	notifiers []Notifier
	interval  time.Duration
}

// NewAlertManager creates a new alert manager. Rules are evaluated every
// interval while Serve runs.
func NewAlertManager(logger *logrus.Logger, interval time.Duration, failureRateThreshold float64) *AlertManager {
	if interval <= 0 {
		interval = time.Minute
	}

	return &AlertManager{
		alerts:    make(map[string]*Alert),
		logger:    logger,
		rules:     defaultAlertRules(failureRateThreshold),
		notifiers: []Notifier{NewLogNotifier(logger)},
		interval:  interval,
	}
}

func defaultAlertRules(failureRateThreshold float64) []AlertRule {
	rate := newWindowedRate(FetchCounts)
	storeRate := newWindowedRate(StoreCounts)

	return []AlertRule{
		{
			Name:     "High Feed Failure Rate",
			Type:     AlertTypeHighErrorRate,
			Severity: SeverityHigh,
			Condition: func() bool {
				return rate.next() > failureRateThreshold
			},
			Title:       "High RSS feed failure rate detected",
			Description: fmt.Sprintf("Feed fetch failure rate exceeded %.0f%% over the last interval", failureRateThreshold*100),
			Labels:      map[string]string{"service": "rss-feed-poller"},
			Enabled:     true,
		},
		{
			Name:     "Store Errors",
			Type:     AlertTypeStoreError,
			Severity: SeverityCritical,
			Condition: func() bool {
				return storeRate.next() > 0.1
			},
			Title:       "Key-value store operations failing",
			Description: "More than 10% of failure counter and save marker operations failed over the last interval",
			Labels:      map[string]string{"service": "rss-feed-poller"},
			Enabled:     true,
		},
	}
}

// Serve runs the evaluation loop until ctx is done
func (am *AlertManager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(am.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			am.EvaluateRules()
		}
	}
}

// EvaluateRules evaluates all enabled alert rules once
func (am *AlertManager) EvaluateRules() {
	am.mutex.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mutex.RUnlock()

	for _, rule := range rules {
		if rule.Enabled && rule.Condition() {
			am.triggerRuleAlert(rule)
		} else if rule.Enabled {
			am.resolveType(rule.Type)
		}
	}
}

// triggerRuleAlert raises an alert unless one of the same type is still active
func (am *AlertManager) triggerRuleAlert(rule AlertRule) {
	alert := newAlert(rule.Type, rule.Severity, rule.Title, rule.Description, rule.Labels)

	am.mutex.Lock()
	for _, existing := range am.alerts {
		if existing.Type == rule.Type && !existing.Resolved {
			am.mutex.Unlock()
			return
		}
	}
	am.alerts[alert.ID] = alert
	am.mutex.Unlock()

	am.sendNotifications(alert)
}

func (am *AlertManager) resolveType(alertType AlertType) {
	am.mutex.RLock()
	var ids []string
	for id, alert := range am.alerts {
		if alert.Type == alertType && !alert.Resolved {
			ids = append(ids, id)
		}
	}
	am.mutex.RUnlock()

	for _, id := range ids {
		am.ResolveAlert(id)
	}
}

func (am *AlertManager) sendNotifications(alert *Alert) {
	am.mutex.RLock()
	notifiers := make([]Notifier, len(am.notifiers))
	copy(notifiers, am.notifiers)
	am.mutex.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.Send(alert); err != nil {
			am.logger.WithError(err).WithField("notifier", notifier.Name()).Error("Failed to send alert notification")
		}
	}
}

// TriggerManualAlert raises an alert outside the rule loop
func (am *AlertManager) TriggerManualAlert(alertType AlertType, severity AlertSeverity, title, description string, labels map[string]string) {
	alert := newAlert(alertType, severity, title, description, labels)

	am.mutex.Lock()
	am.alerts[alert.ID] = alert
	am.mutex.Unlock()

	am.sendNotifications(alert)
}

// ResolveAlert resolves an alert
func (am *AlertManager) ResolveAlert(alertID string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	if alert, exists := am.alerts[alertID]; exists && !alert.Resolved {
		now := time.Now()
		alert.Resolved = true
		alert.ResolvedAt = &now

		am.logger.WithFields(logrus.Fields{
			"alert_id": alertID,
			"type":     alert.Type,
		}).Info("Alert resolved")
	}
}

// GetActiveAlerts returns all active (unresolved) alerts
func (am *AlertManager) GetActiveAlerts() []*Alert {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var activeAlerts []*Alert
	for _, alert := range am.alerts {
		if !alert.Resolved {
			activeAlerts = append(activeAlerts, alert)
		}
	}

	return activeAlerts
}

// AddNotifier adds a new notifier
func (am *AlertManager) AddNotifier(notifier Notifier) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.notifiers = append(am.notifiers, notifier)
}

// AddRule registers an additional alert rule
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.rules = append(am.rules, rule)
}

func newAlert(alertType AlertType, severity AlertSeverity, title, description string, labels map[string]string) *Alert {
	return &Alert{
		ID:          fmt.Sprintf("%s-%s", alertType, uuid.NewString()),
		Type:        alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		Timestamp:   time.Now(),
		Labels:      labels,
		Annotations: make(map[string]interface{}),
	}
}

// windowedRate turns running attempt/failure totals into the failure ratio
// observed since the previous call.
type windowedRate struct {
	source       func() (int64, int64)
	lastAttempts int64
	lastFailures int64
}

func newWindowedRate(source func() (int64, int64)) *windowedRate {
	attempts, failures := source()
	return &windowedRate{source: source, lastAttempts: attempts, lastFailures: failures}
}

func (w *windowedRate) next() float64 {
	attempts, failures := w.source()
	deltaAttempts := attempts - w.lastAttempts
	deltaFailures := failures - w.lastFailures
	w.lastAttempts, w.lastFailures = attempts, failures

	if deltaAttempts <= 0 {
		return 0
	}
	return float64(deltaFailures) / float64(deltaAttempts)
}

// GetFeedFailureRate returns the lifetime feed fetch failure ratio
func GetFeedFailureRate() float64 {
	attempts, failures := FetchCounts()
	if attempts == 0 {
		return 0
	}
	return float64(failures) / float64(attempts)
}
