package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/smartcity/trafficcore/internal/domain"
)

// Event kinds published on the notification stream
const (
	KindBottleneck    = "bottleneck_detected"
	KindDecision      = "decision_recommended"
	KindHighRiskRoute = "high_risk_route"
)

// StreamPublisher abstracts the stream backend so tests can replace Redis
type StreamPublisher interface {
	Publish(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// RedisStreams publishes with XADD
type RedisStreams struct {
	client *redis.Client
	maxLen int64
}

// NewRedisStreams wraps a go-redis client; maxLen caps the stream approximately
func NewRedisStreams(client *redis.Client, maxLen int64) *RedisStreams {
	return &RedisStreams{client: client, maxLen: maxLen}
}

func (r *RedisStreams) Publish(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: values,
	}).Result()
}

// StreamNotifier sends core events to a Redis stream as JSON payloads
type StreamNotifier struct {
	publisher StreamPublisher
	stream    string
}

// NewStreamNotifier creates a notifier writing to stream
func NewStreamNotifier(publisher StreamPublisher, stream string) *StreamNotifier {
	return &StreamNotifier{publisher: publisher, stream: stream}
}

func (n *StreamNotifier) BottleneckDetected(ctx context.Context, b domain.Bottleneck) error {
	return n.publish(ctx, KindBottleneck, b.SegmentID, b)
}

func (n *StreamNotifier) DecisionRecommended(ctx context.Context, d domain.Decision) error {
	return n.publish(ctx, KindDecision, d.SegmentID, d)
}

func (n *StreamNotifier) HighRiskRoute(ctx context.Context, r domain.EmergencyRoute) error {
	return n.publish(ctx, KindHighRiskRoute, r.ID, r)
}

func (n *StreamNotifier) publish(ctx context.Context, kind, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: failed to encode %s: %w", kind, err)
	}

	_, err = n.publisher.Publish(ctx, n.stream, map[string]interface{}{
		"kind":      kind,
		"key":       key,
		"data":      string(data),
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to publish %s: %w", kind, err)
	}
	return nil
}
