// Package notification fans session and duel notices out to chat and websocket clients.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// Notice types
const (
	TypeSessionStarted = "session_started"
	TypeSessionSettled = "session_settled"
	TypeLiveState      = "live_state"
	TypeDuelChallenged = "duel_challenged"
	TypeDuelSettled    = "duel_settled"
	TypeDuelExpired    = "duel_expired"
)

// Notice is one message for participants. Message is the chat text, Data the structured payload.
type Notice struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	// Live はライブ状態の更新（チャットには流さない）
	Live bool `json:"live,omitempty"`
}

// Publisher delivers a notice to one destination.
type Publisher interface {
	Publish(ctx context.Context, n Notice) error
}

type PublisherFunc func(ctx context.Context, n Notice) error

func (f PublisherFunc) Publish(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

const (
	defaultQueueSize = 100
	announceWait     = 2 * time.Second
	publishTimeout   = 10 * time.Second
)

// Dispatcher queues notices and publishes them in order from one goroutine.
type Dispatcher struct {
	queue      chan Notice
	publishers []Publisher
	done       chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

func NewDispatcher(queueSize int, publishers ...Publisher) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		queue:      make(chan Notice, queueSize),
		publishers: publishers,
		done:       make(chan struct{}),
	}
}

// Start launches the queue processor.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	d.wg.Add(1)
	go d.process()
	logger.Info("Notification dispatcher started", zap.Int("publishers", len(d.publishers)))
}

// Stop drains queued notices and stops the processor.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	logger.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) process() {
	defer d.wg.Done()

	for {
		select {
		case n := <-d.queue:
			d.publish(n)
		case <-d.done:
			// 残りを流してから終了
			for {
				select {
				case n := <-d.queue:
					d.publish(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) publish(n Notice) {
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.Publish(ctx, n)
		cancel()
		if err != nil {
			logger.Error("Failed to publish notice",
				zap.String("type", n.Type),
				zap.String("event_id", n.EventID),
				zap.Error(err))
		}
	}
}

// Announce enqueues a final or lifecycle notice. It waits briefly when the queue is full.
func (d *Dispatcher) Announce(eventID string, n Notice) {
	n.EventID = eventID
	n.Live = false

	select {
	case d.queue <- n:
		logger.Debug("Notice enqueued", zap.String("type", n.Type), zap.String("event_id", eventID))
		return
	default:
	}

	timer := time.NewTimer(announceWait)
	defer timer.Stop()
	select {
	case d.queue <- n:
	case <-timer.C:
		logger.Error("Notification queue is full, dropping announcement",
			zap.String("type", n.Type),
			zap.String("event_id", eventID),
			zap.String("message", n.Message))
	}
}

// UpdateLiveState enqueues a live-state refresh. Dropped when the queue is full.
func (d *Dispatcher) UpdateLiveState(eventID string, n Notice) {
	n.EventID = eventID
	n.Live = true
	if n.Type == "" {
		n.Type = TypeLiveState
	}

	select {
	case d.queue <- n:
	default:
		logger.Warn("Notification queue is full, dropping live state", zap.String("event_id", eventID))
	}
}
