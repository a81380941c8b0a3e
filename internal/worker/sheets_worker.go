package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/models"
)

// SheetsClient writes one appointment row to the spreadsheet mirror.
type SheetsClient interface {
	UpsertAppointment(ctx context.Context, appt *models.Appointment) error
}

// AppointmentSource loads the current state of an appointment.
type AppointmentSource interface {
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

// sheetTask is queued by appointment id only, so the row always reflects the
// state at processing time rather than the state at enqueue time.
type sheetTask struct {
	AppointmentID string    `json:"appointment_id"`
	Attempt       int       `json:"attempt"`
	CreatedAt     time.Time `json:"created_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// SheetsWorker mirrors appointment changes into Google Sheets. Tasks go
// through redis when available and an in-memory channel otherwise.
type SheetsWorker struct {
	source        AppointmentSource
	sheets        SheetsClient
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan sheetTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	after         func(d time.Duration, f func())
	logger        *zerolog.Logger
}

// NewSheetsWorker builds a worker with sane defaults.
func NewSheetsWorker(source AppointmentSource, sheets SheetsClient, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SheetsWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &SheetsWorker{
		source:        source,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan sheetTask, 128),
		redisQueueKey: "sheets:queue",
		deadLetterKey: "sheets:deadletter",
		pollInterval:  2 * time.Second,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		logger: logger,
	}
}

// Subscribe registers the worker for every appointment event on the bus.
func (w *SheetsWorker) Subscribe(bus *events.EventBus) {
	for _, eventType := range events.TransitionEvents {
		bus.Subscribe(eventType, w.HandleEvent)
	}
	bus.Subscribe(events.EventTravelUpdated, w.HandleEvent)
}

// HandleEvent enqueues the appointment named in the event payload.
func (w *SheetsWorker) HandleEvent(event *events.Event) error {
	var payload events.AppointmentEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		w.logger.Error().Err(err).Str("event", event.Type).Msg("Failed to decode appointment event")
		return err
	}
	return w.Enqueue(context.Background(), payload.AppointmentID)
}

// Enqueue schedules a sync of one appointment.
func (w *SheetsWorker) Enqueue(ctx context.Context, appointmentID string) error {
	if appointmentID == "" {
		return errors.New("appointment id is required")
	}
	w.push(ctx, sheetTask{AppointmentID: appointmentID, CreatedAt: time.Now().UTC()})
	return nil
}

func (w *SheetsWorker) push(ctx context.Context, task sheetTask) {
	// Сначала пробуем redis
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Msg("Redis push failed, falling back to memory queue")
		} else {
			return
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Error().
			Str("appointment_id", task.AppointmentID).
			Msg("In-memory sheets queue full, task dropped")
	}
}

// Start launches main loop; stops when ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Sheets worker started")
	defer w.logger.Info().Msg("Sheets worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, t)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case t := <-w.queue:
			w.processTask(ctx, t)
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *SheetsWorker) tryLocalQueue() (sheetTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return sheetTask{}, false
	}
}

func (w *SheetsWorker) tryRedis(ctx context.Context) (sheetTask, bool) {
	if w.redis == nil {
		return sheetTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("Redis BRPOP failed")
		}
		return sheetTask{}, false
	}
	if len(res) != 2 {
		return sheetTask{}, false
	}
	var task sheetTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode sheets task")
		return sheetTask{}, false
	}
	return task, true
}

func (w *SheetsWorker) processTask(ctx context.Context, task sheetTask) {
	appt, err := w.source.GetAppointment(ctx, task.AppointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Warn().Str("appointment_id", task.AppointmentID).Msg("Appointment gone, skipping sheets sync")
		return
	}
	if err != nil {
		w.retryOrFail(ctx, task, fmt.Errorf("load appointment: %w", err))
		return
	}

	if err := w.sheets.UpsertAppointment(ctx, appt); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}
	w.logger.Debug().
		Str("appointment_id", appt.ID).
		Str("status", string(appt.Status)).
		Msg("Appointment synced to sheets")
}

func (w *SheetsWorker) retryOrFail(ctx context.Context, task sheetTask, cause error) {
	task.Attempt++
	task.LastError = cause.Error()
	if task.Attempt >= w.retryPolicy.MaxRetries {
		w.logger.Error().
			Err(cause).
			Str("appointment_id", task.AppointmentID).
			Int("attempts", task.Attempt).
			Msg("Sheets sync failed permanently")
		w.pushDeadLetter(ctx, task)
		return
	}

	delay := w.retryPolicy.NextDelay(task.Attempt)
	w.logger.Warn().
		Err(cause).
		Str("appointment_id", task.AppointmentID).
		Dur("retry_in", delay).
		Msg("Sheets sync failed, will retry")
	w.after(delay, func() {
		w.push(context.Background(), task)
	})
}

func (w *SheetsWorker) pushRedis(ctx context.Context, key string, task sheetTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *SheetsWorker) pushDeadLetter(ctx context.Context, task sheetTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Str("appointment_id", task.AppointmentID).Msg("Dead letter push failed")
	}
}
