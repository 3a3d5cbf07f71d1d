// Asynchronous JSON webhook delivery
package webhook

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/richmills3/bitcoin-sv/internal/logger"
)

// Config for a webhook dispatcher
type Config struct {
	Address      string        // destination URL
	Timeout      time.Duration // per-attempt HTTP timeout
	QueueSize    int           // pending submissions before drops
	MaxRetries   int           // attempts per document beyond the first
	RetryBackoff time.Duration // delay between attempts
}

// Dispatcher posts JSON documents to a webhook endpoint from a background
// worker. Submit enqueues and returns immediately; delivery failures are the
// dispatcher's problem and are only surfaced through the log.
type Dispatcher struct {
	config Config
	log    *logger.Logger
	client *http.Client

	queue    chan []byte
	stopChan chan struct{}
	done     chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery worker
func NewDispatcher(cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := &Dispatcher{
		config:   cfg,
		log:      log,
		client:   &http.Client{Timeout: cfg.Timeout},
		queue:    make(chan []byte, cfg.QueueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go d.deliveryLoop()
	return d
}

// Submit enqueues a document for delivery. Never blocks: when the queue is
// saturated the document is dropped with a warning.
func (d *Dispatcher) Submit(body []byte) {
	select {
	case d.queue <- body:
	default:
		d.log.WithField("url", d.config.Address).Warn("Webhook queue full, dropping notification")
	}
}

// Stop shuts the worker down after draining already-queued documents
func (d *Dispatcher) Stop() {
	close(d.stopChan)
	<-d.done
}

func (d *Dispatcher) deliveryLoop() {
	defer close(d.done)

	for {
		select {
		case body := <-d.queue:
			d.deliver(body)
		case <-d.stopChan:
			// Drain what was queued before the stop
			for {
				select {
				case body := <-d.queue:
					d.deliver(body)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(body []byte) {
	var lastErr error
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.config.RetryBackoff):
			case <-d.stopChan:
				// Shutting down: the remaining attempts run without waiting
			}
		}

		if lastErr = d.post(body); lastErr == nil {
			return
		}

		d.log.WithError(lastErr).WithFields(logger.Fields{
			"url":     d.config.Address,
			"attempt": attempt + 1,
		}).Warn("Webhook delivery failed")
	}

	d.log.WithError(lastErr).WithField("url", d.config.Address).Error("Webhook notification abandoned")
}

func (d *Dispatcher) post(body []byte) error {
	resp, err := d.client.Post(d.config.Address, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}
	return nil
}
