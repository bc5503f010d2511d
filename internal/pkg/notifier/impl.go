package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

type Subscriber interface {
	Notify(ctx context.Context, event ledger.Event) error
}

type Envelope struct {
	Type string       `json:"type"`
	Data ledger.Event `json:"data"`
}

func Encode(event ledger.Event) ([]byte, error) {
	raw, err := json.Marshal(Envelope{
		Type: event.Topic(),
		Data: event,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Topic(), err)
	}

	return raw, nil
}

// NotifierService drains the ledger's event channel and hands every event to
// each subscriber in turn. Subscriber failures are logged and never reach the
// ledger.
type NotifierService struct {
	EventSource <-chan ledger.Event
	Logger      *zap.Logger

	Hub *Hub

	subscribers []Subscriber
	mu          sync.RWMutex

	wg sync.WaitGroup
}

func NewNotifierService(i do.Injector) (*NotifierService, error) {
	eventSource := do.MustInvokeNamed[<-chan ledger.Event](i, "event-source")
	logger := do.MustInvoke[*zap.Logger](i).Named("notifier")

	allowedOrigins := do.MustInvokeNamed[[]string](i, "ws-allowed-origins")
	hub := NewHub(logger, allowedOrigins...)

	//nolint:exhaustruct
	result := &NotifierService{
		EventSource: eventSource,
		Logger:      logger,

		Hub: hub,
	}

	result.Subscribe(hub)

	redisAddr := do.MustInvokeNamed[string](i, "redis-addr")
	if len(redisAddr) > 0 {
		redisPassword := do.MustInvokeNamed[string](i, "redis-password")

		publisher, err := NewRedisPublisher(redisAddr, redisPassword, DefaultRedisChannel)
		if err != nil {
			return nil, err
		}

		result.Subscribe(publisher)

		logger.Info("publishing events to redis",
			zap.String("addr", redisAddr),
			zap.String("channel", DefaultRedisChannel))
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		e.GET("/api/leaderboard/stream", hub.ServeWS)
	})

	return result, nil
}

func (s *NotifierService) Subscribe(subscriber Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// Start drains EventSource in the background until it is closed.
func (s *NotifierService) Start() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.processEvents()
	}()
}

func (s *NotifierService) Dispatch(event ledger.Event) {
	s.mu.RLock()
	subscribers := s.subscribers
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)

		err := subscriber.Notify(ctx, event)
		if err != nil {
			s.logger().Warn("subscriber failed",
				zap.String("topic", event.Topic()),
				zap.String("subscriber", fmt.Sprintf("%T", subscriber)),
				zap.Error(err))
		}

		cancel()
	}
}

// Shutdown waits for the events already buffered in EventSource to be
// dispatched, then closes the subscribers. EventSource must be closed first.
func (s *NotifierService) Shutdown(ctx context.Context) error {
	drained := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("failed to drain events: %w", ctx.Err())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, subscriber := range s.subscribers {
		if closer, ok := subscriber.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}

	return nil
}

func (s *NotifierService) processEvents() {
	for event := range s.EventSource {
		s.Dispatch(event)
	}
}

func (s *NotifierService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}
