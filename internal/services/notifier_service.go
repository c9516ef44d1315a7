package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
)

// NotifierService publishes real-time payment events to dashboard
// subscribers and queues SMS receipts. It is decoupled from the ingestion
// pipeline through a buffered channel: Publish never blocks, and a full
// buffer or missing Redis drops the event with a log line rather than
// affecting the committed outcome.
type NotifierService struct {
	redis  *redis.Client
	cfg    *config.PipelineConfig
	events chan models.PaymentEvent
	done   chan struct{}
}

func NewNotifierService(redisClient *redis.Client, cfg *config.PipelineConfig) *NotifierService {
	n := &NotifierService{
		redis:  redisClient,
		cfg:    cfg,
		events: make(chan models.PaymentEvent, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// PublishMatched emits a payment_matched event carrying enough display data
// for a subscriber to render it without a follow-up query.
func (n *NotifierService) PublishMatched(entry *models.LedgerEntry, student *models.Student) {
	n.publish(models.PaymentEvent{
		ID:              uuid.NewString(),
		Kind:            models.EventPaymentMatched,
		TenantID:        entry.TenantID,
		StudentName:     student.Name,
		AdmissionNumber: student.AdmissionNumber,
		Reference:       entry.Reference,
		Amount:          entry.Amount,
		Source:          entry.Source,
		Time:            time.Now().Format(time.RFC3339),
		Status:          entry.Status,
	})
}

// PublishSuspense emits a payment_suspense event for an unmatched notice.
func (n *NotifierService) PublishSuspense(entry *models.LedgerEntry) {
	n.publish(models.PaymentEvent{
		ID:        uuid.NewString(),
		Kind:      models.EventPaymentSuspense,
		TenantID:  entry.TenantID,
		Reference: entry.Reference,
		Amount:    entry.Amount,
		Source:    entry.Source,
		Time:      time.Now().Format(time.RFC3339),
		Status:    entry.Status,
	})
}

// QueueReceipt pushes an SMS receipt onto the outbound queue. Best effort:
// a masked payer phone means no receipt.
func (n *NotifierService) QueueReceipt(entry *models.LedgerEntry, student *models.Student, currency string) {
	if n.redis == nil || entry.PhoneNumber == nil {
		return
	}
	receipt := map[string]string{
		"phone": *entry.PhoneNumber,
		"message": fmt.Sprintf("Dear Parent, received %s %.2f for %s. New Balance: %s %.2f. Ref: %s.",
			currency, entry.Amount, student.Name, currency, student.CurrentBalance-entry.Amount, entry.TransactionID),
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return
	}
	if err := n.redis.RPush(context.Background(), n.cfg.ReceiptQueue, data).Err(); err != nil {
		log.Printf("[NOTIFIER] Failed to queue receipt for %s: %v", entry.TransactionID, err)
	}
}

func (n *NotifierService) publish(event models.PaymentEvent) {
	select {
	case n.events <- event:
	default:
		log.Printf("[NOTIFIER] Event buffer full, dropping %s event %s", event.Kind, event.ID)
	}
}

func (n *NotifierService) dispatch() {
	for {
		select {
		case event := <-n.events:
			n.deliver(event)
		case <-n.done:
			return
		}
	}
}

func (n *NotifierService) deliver(event models.PaymentEvent) {
	if n.redis == nil {
		log.Printf("[NOTIFIER] No event backend, dropping %s event for ref %s", event.Kind, event.Reference)
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[NOTIFIER] Failed to marshal event %s: %v", event.ID, err)
		return
	}
	if err := n.redis.Publish(context.Background(), n.cfg.EventChannel, string(data)).Err(); err != nil {
		log.Printf("[NOTIFIER] Failed to publish %s event %s: %v", event.Kind, event.ID, err)
	}
}

// Close stops the dispatcher. Queued events still in the buffer are dropped.
func (n *NotifierService) Close() {
	close(n.done)
}
