// Package escalation fans high/critical urgency events out to human
// operators: one persisted Notification per operator per event, plus a
// best-effort realtime push to whoever is connected.
package escalation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/converso-ai/converso/backend/internal/model/analysis"
	"github.com/converso-ai/converso/backend/internal/store"
	"github.com/converso-ai/converso/backend/internal/transport"
)

// Dispatcher tracks the operator roster per tenant and delivers urgency
// events. A roster entry with a nil channel is a known operator who is
// currently offline; their notifications are persisted unread.
type Dispatcher struct {
	store store.NotificationStore

	mu        sync.RWMutex
	operators map[string]map[string]transport.Channel
}

// NewDispatcher builds an empty dispatcher over the notification store.
func NewDispatcher(notifications store.NotificationStore) *Dispatcher {
	return &Dispatcher{
		store:     notifications,
		operators: make(map[string]map[string]transport.Channel),
	}
}

// RegisterOperator adds an operator to the tenant roster without binding a
// channel; used at login or from seed configuration.
func (d *Dispatcher) RegisterOperator(tenantID, operatorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.operators[tenantID] == nil {
		d.operators[tenantID] = make(map[string]transport.Channel)
	}
	if _, ok := d.operators[tenantID][operatorID]; !ok {
		d.operators[tenantID][operatorID] = nil
	}
}

// Attach binds a connected channel to an operator, registering them if
// needed. Any previous channel is closed first.
func (d *Dispatcher) Attach(tenantID, operatorID string, ch transport.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.operators[tenantID] == nil {
		d.operators[tenantID] = make(map[string]transport.Channel)
	}
	if old := d.operators[tenantID][operatorID]; old != nil {
		_ = old.Close()
	}
	d.operators[tenantID][operatorID] = ch
}

// Detach drops the operator's channel but keeps them on the roster so
// later events still persist notifications for them.
func (d *Dispatcher) Detach(tenantID, operatorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ops, ok := d.operators[tenantID]; ok {
		if ch := ops[operatorID]; ch != nil {
			_ = ch.Close()
		}
		ops[operatorID] = nil
	}
}

// Dispatch persists one Notification per roster operator and pushes to the
// connected ones. Persistence is guaranteed before any push; a push
// failure is logged and never retried here (the unread row covers it).
func (d *Dispatcher) Dispatch(ctx context.Context, event analysis.UrgencyEvent, ann analysis.Annotation, colaboradorName string) {
	if event.Level != analysis.LevelHigh && event.Level != analysis.LevelCritical {
		return
	}

	payload := analysis.NotificationPayload{
		Type:            "notification",
		UrgencyLevel:    event.Level,
		Title:           ann.Title,
		Body:            ann.Body,
		ColaboradorName: colaboradorName,
		SuggestedAction: event.SuggestedAction,
		AnnotationID:    ann.ID,
	}

	d.mu.RLock()
	roster := make(map[string]transport.Channel, len(d.operators[ann.TenantID]))
	for operatorID, ch := range d.operators[ann.TenantID] {
		roster[operatorID] = ch
	}
	d.mu.RUnlock()

	if len(roster) == 0 {
		log.Printf("[escalation] no operators registered for tenant=%s event=%s level=%s", ann.TenantID, event.ID, event.Level)
		return
	}

	for operatorID, ch := range roster {
		notification := analysis.Notification{
			ID:             uuid.NewString(),
			TenantID:       ann.TenantID,
			OperatorID:     operatorID,
			UrgencyEventID: event.ID,
			Payload:        payload,
			CreatedAt:      time.Now().UTC(),
		}

		inserted, err := d.store.InsertNotification(ctx, notification)
		if err != nil {
			log.Printf("[escalation] ALERT: notification persist failed tenant=%s operator=%s event=%s: %v",
				ann.TenantID, operatorID, event.ID, err)
			continue
		}
		if !inserted {
			// Already delivered for this (event, operator) pair.
			continue
		}

		if ch == nil {
			continue
		}
		frame, err := transport.EncodeFrame("notification", "", payload)
		if err != nil {
			log.Printf("[escalation] encode notification failed: %v", err)
			continue
		}
		frame.MessageID = notification.ID
		if err := ch.Send(frame); err != nil {
			log.Printf("[escalation] push to operator=%s failed (notification persisted): %v", operatorID, err)
		}
	}
}
