package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"machine-catalog-backend/internal/metrics"
	"machine-catalog-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Change says what happened to a machine.
type Change string

const (
	ChangePlacements Change = "placements"
	ChangeDetails    Change = "details"
	ChangeParts      Change = "parts"
)

// Event is one machine change to announce to the users assigned to it.
type Event struct {
	MachineID int64
	Change    Change
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	MachineID int64  `json:"machineId"`
	Change    Change `json:"change"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log *zap.SugaredLogger, m *metrics.Metrics) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
		metrics: m,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debugf("Worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.log.Debugf("Worker %d processing machine %d (%s)", id, ev.MachineID, ev.Change)
			wp.notifyAssignedUsers(ctx, ev)
		case <-ctx.Done():
			wp.log.Debugf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues ev. A full queue drops the event; notifications are
// advisory and a request must not wait on them.
func (wp *WorkerPool) Dispatch(ev Event) {
	select {
	case wp.jobs <- ev:
	default:
		wp.log.Warnf("Notification queue full, dropping event for machine %d", ev.MachineID)
		wp.metrics.Notification("dropped")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

// notifyAssignedUsers sends ev to every subscription whose owner is assigned
// the machine.
func (wp *WorkerPool) notifyAssignedUsers(ctx context.Context, ev Event) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN user_machine_assignments uma ON uma.user_id = push_subscriptions.user_id").
		Where("uma.machine_id = ?", ev.MachineID).
		Find(&subscriptions).Error
	if err != nil {
		wp.log.Errorf("Error fetching subscriptions for machine %d: %v", ev.MachineID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	var machine model.Machine
	label := fmt.Sprintf("#%d", ev.MachineID)
	if err := wp.db.WithContext(ctx).Select("name").First(&machine, ev.MachineID).Error; err != nil {
		wp.log.Warnf("Error fetching machine %d: %v", ev.MachineID, err)
	} else if machine.Name != "" {
		label = machine.Name
	}

	payload, err := json.Marshal(Payload{
		Title:     "Machine updated",
		Body:      describe(label, ev.Change),
		MachineID: ev.MachineID,
		Change:    ev.Change,
	})
	if err != nil {
		wp.log.Errorf("Error encoding notification for machine %d: %v", ev.MachineID, err)
		return
	}

	wp.log.Infof("Sending %d notifications for machine %d", len(subscriptions), ev.MachineID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func describe(label string, c Change) string {
	switch c {
	case ChangePlacements:
		return fmt.Sprintf("The parts placed on %s changed.", label)
	case ChangeParts:
		return fmt.Sprintf("A part used by %s changed.", label)
	default:
		return fmt.Sprintf("%s was updated.", label)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warnf("Error sending notification to %s: %v", sub.Endpoint, err)
		wp.metrics.Notification("failed")
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions answer 410 and are dropped.
	if resp.StatusCode == http.StatusGone {
		wp.log.Infof("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		wp.metrics.Notification("gone")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Errorf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
		return
	}
	wp.metrics.Notification("sent")
}
