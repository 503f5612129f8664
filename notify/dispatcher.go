package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"pawboard-api/domain"
)

// Storage is the persistence surface the dispatcher reads triggers from
// and writes delivery audit rows to.
type Storage interface {
	FetchStages(ctx context.Context) ([]domain.Stage, error)
	FetchTriggers(ctx context.Context, toStage string) ([]domain.NotificationTrigger, error)
	InsertDelivery(ctx context.Context, rec domain.DeliveryRecord) error
}

// Config sizes the dispatcher.
type Config struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	SendTimeout    time.Duration
	SalonName      string
}

// Dispatcher fans stage-changed events out to notification triggers on a
// worker pool. Delivery failures are logged and recorded, never
// propagated back to the board operation that produced the event.
type Dispatcher struct {
	cfg    Config
	store  Storage
	mailer Mailer
	logger *log.Logger

	events   chan domain.StageChangedEvent
	workerWG sync.WaitGroup

	mu      sync.Mutex
	closing bool

	nextID func() string
	now    func() time.Time
}

// NewDispatcher creates a dispatcher; call Start before dispatching.
func NewDispatcher(cfg Config, store Storage, mailer Mailer, logger *log.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = 15 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if logger == nil {
		panic("notify.NewDispatcher: logger is required")
	}
	return &Dispatcher{
		cfg:    cfg,
		store:  store,
		mailer: mailer,
		logger: logger,
		events: make(chan domain.StageChangedEvent, cfg.Buffer),
		nextID: uuid.NewString,
		now:    time.Now,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.workerWG.Add(1)
		go d.worker(i)
	}
	d.logger.Infof("notification dispatcher started, workers: %d, buffer: %d", d.cfg.Workers, d.cfg.Buffer)
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.closing = true
	close(d.events)
	d.mu.Unlock()

	d.workerWG.Wait()
}

// Dispatch hands an event to the pool. The handoff is non-blocking with a
// short timed fallback; a saturated buffer drops the event (the delivery
// log, not the board, is the lossy surface here) and returns false.
func (d *Dispatcher) Dispatch(ev domain.StageChangedEvent) bool {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	select {
	case d.events <- ev:
		return true
	default:
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.events <- ev:
		return true
	case <-timer.C:
		d.logger.WithFields(log.Fields{
			"visit_id": ev.VisitID,
			"to_stage": ev.ToStage,
		}).Warn("notification buffer saturated; event dropped")
		return false
	}
}

// StageChanged implements the transition engine's event sink so the
// dispatcher can be wired directly where no queue sits in between.
func (d *Dispatcher) StageChanged(_ context.Context, ev domain.StageChangedEvent) error {
	d.Dispatch(ev)
	return nil
}

func (d *Dispatcher) worker(id int) {
	defer d.workerWG.Done()
	for ev := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		d.handle(ctx, ev, id)
		cancel()
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev domain.StageChangedEvent, workerID int) {
	// Field edits never arrive at a stage; triggers only fire on arrivals.
	if ev.Type == domain.VisitUpdated {
		return
	}
	triggers, err := d.store.FetchTriggers(ctx, ev.ToStage)
	if err != nil {
		d.logger.WithFields(log.Fields{
			"visit_id": ev.VisitID,
			"to_stage": ev.ToStage,
			"worker":   workerID,
			"error":    err.Error(),
		}).Error("trigger lookup failed")
		return
	}
	if len(triggers) == 0 {
		return
	}

	stageLabel := d.stageLabel(ctx, ev.ToStage)
	vars := eventVars(ev, stageLabel, d.cfg.SalonName)

	for _, trigger := range triggers {
		recipient := resolveRecipient(trigger, ev)
		if recipient == "" {
			d.logger.WithFields(log.Fields{
				"visit_id":   ev.VisitID,
				"trigger_id": trigger.ID,
			}).Debug("trigger has no reachable recipient, skipping")
			continue
		}

		subject := Render(trigger.SubjectTmpl, vars)
		body := Render(trigger.BodyTmpl, vars)

		rec := domain.DeliveryRecord{
			ID:        d.nextID(),
			TriggerID: trigger.ID,
			VisitID:   ev.VisitID,
			Recipient: recipient,
			Subject:   subject,
			Status:    domain.DeliverySent,
			SentAt:    d.now().UTC(),
		}
		if sendErr := d.mailer.Send(recipient, subject, body); sendErr != nil {
			rec.Status = domain.DeliveryFailed
			rec.Error = sendErr.Error()
			d.logger.WithFields(log.Fields{
				"visit_id":   ev.VisitID,
				"trigger_id": trigger.ID,
				"recipient":  recipient,
				"error":      sendErr.Error(),
			}).Error("notification delivery failed")
		}

		if insertErr := d.store.InsertDelivery(ctx, rec); insertErr != nil {
			d.logger.WithFields(log.Fields{
				"visit_id":   ev.VisitID,
				"trigger_id": trigger.ID,
				"error":      insertErr.Error(),
			}).Error("delivery audit write failed")
		}
	}
}

// resolveRecipient maps a trigger's recipient spec onto an address. The
// literal "guardian" (or an empty spec) resolves to the visit's guardian.
func resolveRecipient(trigger domain.NotificationTrigger, ev domain.StageChangedEvent) string {
	switch trigger.Recipient {
	case "", "guardian":
		return ev.GuardianEmail
	default:
		return trigger.Recipient
	}
}

func (d *Dispatcher) stageLabel(ctx context.Context, key string) string {
	stages, err := d.store.FetchStages(ctx)
	if err != nil {
		return ""
	}
	for _, s := range stages {
		if s.Key == key {
			return s.Label
		}
	}
	return ""
}
