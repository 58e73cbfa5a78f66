package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
)

// WorkflowAuditService follows the workflow event stream. It writes one
// audit log line per event and, on restart, drops any enhancement lock the
// session still holds.
type WorkflowAuditService struct {
	eventBus providers.EventBus
	cache    providers.CacheProvider
	guard    *InFlightGuard
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWorkflowAuditService creates a new workflow audit service
func NewWorkflowAuditService(eventBus providers.EventBus, cache providers.CacheProvider, guard *InFlightGuard) *WorkflowAuditService {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkflowAuditService{
		eventBus: eventBus,
		cache:    cache,
		guard:    guard,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for workflow events
func (s *WorkflowAuditService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelWorkflow)
	if err != nil {
		return fmt.Errorf("failed to subscribe to workflow events: %w", err)
	}

	s.wg.Add(1)
	go s.processEvents(eventChan)
	log.Info().Msg("workflow audit service started")
	return nil
}

// Stop stops the audit service and waits for the event loop to exit
func (s *WorkflowAuditService) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("workflow audit service stopped")
}

func (s *WorkflowAuditService) processEvents(eventChan <-chan *entities.WorkflowEvent) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

func (s *WorkflowAuditService) handleEvent(event *entities.WorkflowEvent) {
	log.Info().
		Str("event_id", event.ID).
		Str("session_id", event.SessionID).
		Str("event_type", string(event.EventType)).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Str("correlation_id", event.CorrelationID).
		Time("at", event.Timestamp).
		Msg("workflow audit")

	if event.EventType != entities.WorkflowEventRestart || s.cache == nil || s.guard == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, s.guard.lockKey(event.SessionID)); err != nil {
		log.Warn().Err(err).Str("session_id", event.SessionID).Msg("failed to drop enhancement lock after restart")
	}
}
