package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/dmail/middleware"
	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/plugin/hook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditEntry holds one audit event to be logged.
type AuditEntry struct {
	TraceID    string
	UserID     *int64
	UserName   string
	Action     string
	Request    interface{}
	Response   interface{}
	Error      string
	IP         string
	DurationMs int
}

// Subject is implemented by hook payloads that name the user they concern.
type Subject interface {
	AuditSubject() (userID int64, userName string)
}

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

var (
	metricWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dmail",
		Subsystem: "audit",
		Name:      "entries_written_total",
		Help:      "Audit entries persisted.",
	})
	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmail",
		Subsystem: "audit",
		Name:      "entries_dropped_total",
		Help:      "Audit entries lost, by reason.",
	}, []string{"reason"})
)

// Service logs audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write. Entries logged after
// Stop, or while the queue is full, are dropped with a warning.
func (svc *Service) Log(entry AuditEntry) {
	select {
	case <-svc.stopCh:
		metricDropped.WithLabelValues("stopped").Inc()
		svc.logger.Warn("audit service stopped, dropping entry", zap.String("action", entry.Action))
		return
	default:
	}

	reqJSON, _ := json.Marshal(entry.Request)
	respJSON, _ := json.Marshal(entry.Response)
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		UserID:     entry.UserID,
		UserName:   entry.UserName,
		Action:     entry.Action,
		Request:    datatypes.JSON(reqJSON),
		Response:   datatypes.JSON(respJSON),
		Error:      entry.Error,
		IP:         entry.IP,
		DurationMs: entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		metricDropped.WithLabelValues("queue_full").Inc()
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Recorder returns a hook handler that logs every event it sees under
// action. The payload is stored as the request body.
func (svc *Service) Recorder(action string) hook.HookFn {
	return func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		entry := AuditEntry{
			TraceID: middleware.TraceIDFromContext(ctx),
			Action:  action,
			Request: data,
		}
		if sub, ok := data.(Subject); ok {
			id, name := sub.AuditSubject()
			entry.UserID = &id
			entry.UserName = name
		}
		svc.Log(entry)
		return data, nil
	}
}

// Stop flushes queued entries and shuts down the worker. It waits for the
// final flush until ctx is done and is safe to call more than once.
func (svc *Service) Stop(ctx context.Context) error {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	select {
	case <-svc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (svc *Service) worker() {
	defer close(svc.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.CreateInBatches(batch, batchSize).Error; err != nil {
			metricDropped.WithLabelValues("write_failed").Add(float64(len(batch)))
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		} else {
			metricWritten.Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
