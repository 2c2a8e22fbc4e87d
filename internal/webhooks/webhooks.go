// Package webhooks forwards lifecycle events to an HTTP endpoint. The
// notifier subscribes to the in-process event bus and delivers from its
// own goroutine, so a slow or dead endpoint never stalls orchestration.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cloud-shuttle/muster/internal/events"
	"github.com/google/uuid"
)

// Payload is the body POSTed to the endpoint
type Payload struct {
	DeliveryID string        `json:"delivery_id"`
	Timestamp  int64         `json:"timestamp"`
	Event      *events.Event `json:"event"`
}

// DeliveryResult records one delivery attempt
type DeliveryResult struct {
	DeliveryID string
	Event      events.Type
	StatusCode int
	Success    bool
	Error      string
	DurationMS int64
}

// Notifier delivers bus events to one configured endpoint
type Notifier struct {
	url    string
	secret string
	client *http.Client

	bus *events.Bus
	ch  chan *events.Event

	historyMu sync.Mutex
	history   []*DeliveryResult

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

const historySize = 100

// NewNotifier creates a notifier for one endpoint. An empty URL returns
// nil: callers treat a nil notifier as disabled.
func NewNotifier(url, secret string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
		stop:   make(chan struct{}),
	}
}

// Start subscribes to the bus and begins delivering in the background
func (n *Notifier) Start(bus *events.Bus) {
	if n == nil {
		return
	}
	n.bus = bus
	n.ch = bus.Subscribe("webhooks")
	n.wg.Add(1)
	go n.run()
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case ev, ok := <-n.ch:
			if !ok {
				return
			}
			n.deliver(ev)
		case <-n.stop:
			return
		}
	}
}

// Stop drains and shuts down the notifier
func (n *Notifier) Stop(ctx context.Context) error {
	if n == nil {
		return nil
	}
	if n.bus != nil {
		n.bus.Unsubscribe(n.ch)
	}
	n.stopOnce.Do(func() { close(n.stop) })

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver POSTs one event and records the result
func (n *Notifier) deliver(ev *events.Event) {
	start := time.Now()
	payload := &Payload{
		DeliveryID: uuid.NewString(),
		Timestamp:  start.Unix(),
		Event:      ev,
	}
	result := &DeliveryResult{DeliveryID: payload.DeliveryID, Event: ev.Type}
	defer func() { n.record(result) }()

	body, err := json.Marshal(payload)
	if err != nil {
		result.Error = fmt.Sprintf("marshal payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Muster-Webhooks/1.0")
	req.Header.Set("X-Muster-Delivery-ID", payload.DeliveryID)
	req.Header.Set("X-Muster-Event", string(ev.Type))
	if n.secret != "" {
		req.Header.Set("X-Muster-Signature", "sha256="+Sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		log.Printf("⚠️ Webhook delivery of %s failed: %v", ev.Type, err)
		return
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	result.DurationMS = time.Since(start).Milliseconds()
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		log.Printf("⚠️ Webhook delivery of %s failed: HTTP %d", ev.Type, resp.StatusCode)
	}
}

// record keeps the most recent delivery results
func (n *Notifier) record(result *DeliveryResult) {
	n.historyMu.Lock()
	defer n.historyMu.Unlock()
	n.history = append(n.history, result)
	if len(n.history) > historySize {
		n.history = n.history[len(n.history)-historySize:]
	}
}

// History returns recent delivery results, newest last
func (n *Notifier) History() []*DeliveryResult {
	if n == nil {
		return nil
	}
	n.historyMu.Lock()
	defer n.historyMu.Unlock()
	out := make([]*DeliveryResult, len(n.history))
	copy(out, n.history)
	return out
}

// Sign computes the hex HMAC-SHA256 of the payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}
