package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/locplace/mapscan/pkg/api"
)

// HTTPSink POSTs frames as a JSON array.
type HTTPSink struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPSink creates a sink for url.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{URL: url, HTTPClient: &http.Client{}}
}

// Name returns the sink URL.
func (s *HTTPSink) Name() string { return s.URL }

// Send posts frame.
func (s *HTTPSink) Send(ctx context.Context, frame []api.WebhookMessage) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // Close error not actionable

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // Best effort to get error details
		return fmt.Errorf("webhook returned %d %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// AMQPSink publishes each frame as one message to a RabbitMQ exchange. The
// routing key is "webhook.<kind>" of the first message.
type AMQPSink struct {
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
	logger   *zap.SugaredLogger
}

// NewAMQPSink connects to RabbitMQ.
func NewAMQPSink(url, exchange string, logger *zap.SugaredLogger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &AMQPSink{
		url:      url,
		exchange: exchange,
		conn:     conn,
		channel:  channel,
		logger:   logger,
	}, nil
}

// Name returns the broker URL without credentials.
func (s *AMQPSink) Name() string {
	if i := strings.LastIndex(s.url, "@"); i >= 0 {
		return "amqp://" + s.url[i+1:]
	}
	return s.url
}

// Close closes the RabbitMQ connection.
func (s *AMQPSink) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Send publishes frame.
func (s *AMQPSink) Send(ctx context.Context, frame []api.WebhookMessage) error {
	if len(frame) == 0 {
		return nil
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	id := uuid.New().String()
	routingKey := "webhook." + frame[0].Type
	err = s.channel.PublishWithContext(
		ctx,
		s.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			MessageId:   id,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}

	s.logger.Debugw("Frame published",
		"id", id,
		"messages", len(frame),
		"routing_key", routingKey,
	)
	return nil
}

// NewSinks builds a sink per target. amqp:// and amqps:// targets publish to
// exchange; anything else is treated as an HTTP endpoint.
func NewSinks(targets []string, exchange string, logger *zap.SugaredLogger) ([]Sink, error) {
	var sinks []Sink
	for _, t := range targets {
		if strings.HasPrefix(t, "amqp://") || strings.HasPrefix(t, "amqps://") {
			s, err := NewAMQPSink(t, exchange, logger)
			if err != nil {
				CloseSinks(sinks)
				return nil, err
			}
			sinks = append(sinks, s)
			continue
		}
		sinks = append(sinks, NewHTTPSink(t))
	}
	return sinks, nil
}

// CloseSinks closes sinks that hold connections.
func CloseSinks(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
