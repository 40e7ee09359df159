// Package notify fans row-change events out to connected dashboards over
// server-sent events, one stream per domain.
package notify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"opsdesk-backend/internal/domain"
	"opsdesk-backend/internal/engine"
)

// Event is one row-change notification.
type Event struct {
	Domain  string         `json:"domain"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// Broadcaster keeps a per-domain subscriber registry. A slow subscriber
// never blocks a publish: its buffer fills and the event is dropped.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}

	// maxStream bounds how long one SSE connection is held open; the
	// client reconnects, which doubles as a liveness check.
	maxStream time.Duration
}

func NewBroadcaster(maxStream time.Duration) *Broadcaster {
	if maxStream <= 0 {
		maxStream = 10 * time.Minute
	}
	return &Broadcaster{
		subs:      make(map[string]map[chan Event]struct{}),
		maxStream: maxStream,
	}
}

// Publish implements engine.Notifier.
func (b *Broadcaster) Publish(domainName, action string, payload map[string]any) {
	event := Event{Domain: domainName, Action: action, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[domainName] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broadcaster) subscribe(domainName string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[domainName] == nil {
		b.subs[domainName] = make(map[chan Event]struct{})
	}
	b.subs[domainName][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(domainName string, ch chan Event) {
	b.mu.Lock()
	delete(b.subs[domainName], ch)
	b.mu.Unlock()
}

// SubscriberCount reports the current listeners for a domain.
func (b *Broadcaster) SubscriberCount(domainName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[domainName])
}

func RegisterRoutes(app *fiber.App, b *Broadcaster, middleware ...fiber.Handler) {
	app.Get("/api/events/:domain", append(middleware, b.Stream)...)
}

// Stream handles GET /api/events/:domain as a server-sent event stream.
func (b *Broadcaster) Stream(c *fiber.Ctx) error {
	domainName, err := domain.Normalize(c.Params("domain"))
	if err != nil {
		return engine.UnknownDomainError(c.Params("domain"))
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ch := b.subscribe(domainName)
	deadline := time.NewTimer(b.maxStream)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer b.unsubscribe(domainName, ch)
		defer deadline.Stop()

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case event := <-ch:
				raw, err := json.Marshal(event)
				if err != nil {
					log.Printf("WARN: encode sse event: %v", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Action, raw)
				if err := w.Flush(); err != nil {
					return
				}
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-deadline.C:
				fmt.Fprint(w, "event: close\ndata: {}\n\n")
				_ = w.Flush()
				return
			}
		}
	}))

	return nil
}
