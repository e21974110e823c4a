// Package mqtt adapts broker-delivered readings to the ingestion pipeline.
// Broker callbacks run on the paho client's network goroutine; readings are
// handed off through a bounded queue drained by worker goroutines so the
// callback context never runs the pipeline inline.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"watertank-cloud/internal/observability/metrics"
	"watertank-cloud/internal/telemetry/application"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
)

type submission struct {
	channelName string
	apiKey      string
	bag         map[string]any
}

// Consumer parses broker messages and feeds the ingestion pipeline.
type Consumer struct {
	pipeline      *application.Pipeline
	logger        *log.Logger
	requireAPIKey bool

	submissions chan submission
	workers     int
	wg          sync.WaitGroup
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithQueueSize bounds the hand-off queue.
func WithQueueSize(size int) ConsumerOption {
	return func(c *Consumer) {
		if size > 0 {
			c.submissions = make(chan submission, size)
		}
	}
}

// WithWorkers sets the number of drain goroutines.
func WithWorkers(workers int) ConsumerOption {
	return func(c *Consumer) {
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithRequireAPIKey switches the MQTT path from broker-level trust to
// payload-carried API key checking. Off by default: the broker's ACLs are the
// configured trust boundary on this transport, unlike HTTP and CoAP.
func WithRequireAPIKey(require bool) ConsumerOption {
	return func(c *Consumer) {
		c.requireAPIKey = require
	}
}

// NewConsumer constructs the consumer.
func NewConsumer(pipeline *application.Pipeline, logger *log.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if pipeline == nil {
		return nil, errors.New("mqtt consumer: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Consumer{
		pipeline:    pipeline,
		logger:      logger,
		submissions: make(chan submission, defaultQueueSize),
		workers:     defaultWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches the drain workers. They exit when ctx is cancelled; Wait
// blocks until they are done.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sub := <-c.submissions:
					metrics.SetMQTTQueueDepth(len(c.submissions))
					c.ingest(ctx, sub)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

// Submit parses a broker message and enqueues it. Safe to call from the
// client's callback goroutine; never blocks. On queue overflow the message is
// dropped with a warning.
func (c *Consumer) Submit(topic string, payload []byte) {
	segments := strings.Split(topic, "/")
	if len(segments) < 2 || segments[1] == "" {
		metrics.IncIngestError("mqtt", "invalid_topic")
		c.logger.Printf("mqtt: invalid topic format %q", topic)
		return
	}
	channelName := segments[1]

	var bag map[string]any
	if err := json.Unmarshal(payload, &bag); err != nil {
		metrics.IncIngestError("mqtt", "invalid_json")
		c.logger.Printf("mqtt: invalid JSON payload on topic %q: %v", topic, err)
		return
	}

	sub := submission{channelName: channelName, bag: bag}
	if c.requireAPIKey {
		if key, ok := bag["api_key"].(string); ok {
			sub.apiKey = key
		}
		delete(bag, "api_key")
	}

	select {
	case c.submissions <- sub:
		metrics.SetMQTTQueueDepth(len(c.submissions))
	default:
		metrics.IncMQTTDropped()
		c.logger.Printf("mqtt: hand-off queue full, dropping message for channel %q", channelName)
	}
}

// Depth reports the pending submission count.
func (c *Consumer) Depth() int {
	return len(c.submissions)
}

func (c *Consumer) ingest(ctx context.Context, sub submission) {
	start := time.Now()
	var err error
	if c.requireAPIKey {
		_, err = c.pipeline.Ingest(ctx, sub.channelName, sub.apiKey, sub.bag)
	} else {
		_, err = c.pipeline.IngestTrusted(ctx, sub.channelName, sub.bag)
	}
	if err != nil {
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		metrics.IncIngestError("mqtt", "pipeline")
		c.logger.Printf("mqtt: ingest for channel %q failed: %v", sub.channelName, err)
		return
	}
	metrics.ObserveIngest("mqtt", metrics.ResultSuccess, time.Since(start))
}
