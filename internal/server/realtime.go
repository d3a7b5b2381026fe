package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/tutorials"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventTutorialChanged = "tutorial-change"
	RealtimeEventTutorialDeleted = "tutorial-deleted"
	realtimeEventReady           = "ready"
	realtimeEventHeartbeat       = "heartbeat"
	realtimeSourceBackend        = "guide-backend"
)

type RealtimeMessage struct {
	TutorialID string
	EventType  string
	Version    int64
	Timestamp  time.Time
}

type realtimeEventPayload struct {
	TutorialID string `json:"tutorialId"`
	Version    int64  `json:"version,omitempty"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"`
}

// RealtimeDispatcher fans tutorial events out to subscribers of that tutorial.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, tutorialID string) (<-chan RealtimeMessage, func()) {
	if tutorialID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(tutorialID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(tutorialID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish never blocks; subscribers with a full buffer miss the message.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.TutorialID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.TutorialID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the active subscribers for a tutorial.
func (d *RealtimeDispatcher) SubscriberCount(tutorialID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[tutorialID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(tutorialID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[tutorialID]; !ok {
		d.subscribers[tutorialID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[tutorialID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(tutorialID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[tutorialID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, tutorialID)
		}
	}
	d.mu.Unlock()
}

func (h *httpHandler) handleTutorialEvents(c *gin.Context) {
	tutorial, err := h.tutorials.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err, "stream_failed")
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, tutorial.TutorialID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventReady, eventPayload(RealtimeMessage{
		TutorialID: tutorial.TutorialID,
		Version:    tutorial.Version,
		Timestamp:  time.Now().UTC(),
	}))
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	h.logger.Debug("realtime stream opened", zap.String("tutorial_id", tutorial.TutorialID))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, eventPayload(message))
			return message.EventType != RealtimeEventTutorialDeleted
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Format(tutorials.TimestampLayout)})
			return true
		}
	})
	h.logger.Debug("realtime stream closed", zap.String("tutorial_id", tutorial.TutorialID))
}

func eventPayload(message RealtimeMessage) realtimeEventPayload {
	return realtimeEventPayload{
		TutorialID: message.TutorialID,
		Version:    message.Version,
		Timestamp:  message.Timestamp.UTC().Format(tutorials.TimestampLayout),
		Source:     realtimeSourceBackend,
	}
}
