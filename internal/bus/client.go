package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const replyPrefix = "reply:"

// RemoteError carries a handler failure back to the caller of Call.
type RemoteError struct {
	Topic   string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Topic, e.Method, e.Message)
}

// Client sends messages to topics.
type Client struct {
	broker      Broker
	signer      Signer
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time
}

// NewClient constructs a Client. callTimeout bounds Call when ctx carries no deadline.
func NewClient(broker Broker, signer Signer, callTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = time.Minute
	}
	return &Client{broker: broker, signer: signer, logger: logger, callTimeout: callTimeout, now: time.Now}
}

// Cast delivers method to one consumer of topic and returns once the message is
// queued. Handler outcomes are never reported back.
func (c *Client) Cast(ctx context.Context, rc RequestContext, topic, method string, payload any) error {
	env, err := c.envelope(rc, topic, method, payload)
	if err != nil {
		return err
	}
	data, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := c.broker.Push(ctx, topic, data, 0); err != nil {
		return err
	}
	c.logger.Debug("message cast", "topic", topic, "method", method, "message_id", env.ID, "trace_id", env.Context.TraceID)
	return nil
}

// Call delivers method to one consumer of topic and waits for its reply. A
// handler error is returned as *RemoteError. result may be nil.
func (c *Client) Call(ctx context.Context, rc RequestContext, topic, method string, payload, result any) error {
	env, err := c.envelope(rc, topic, method, payload)
	if err != nil {
		return err
	}
	env.ReplyTo = replyPrefix + env.ID
	data, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	timeout := c.callTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := c.broker.Push(ctx, topic, data, 0); err != nil {
		return err
	}

	raw, err := c.broker.Pop(ctx, env.ReplyTo, timeout)
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return fmt.Errorf("call %s.%s: %w", topic, method, context.DeadlineExceeded)
		}
		return fmt.Errorf("call %s.%s: %w", topic, method, err)
	}
	var reply Reply
	if err := Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if !reply.OK {
		return &RemoteError{Topic: topic, Method: method, Message: reply.Error}
	}
	if result != nil && len(reply.Data) > 0 {
		if err := Unmarshal(reply.Data, result); err != nil {
			return fmt.Errorf("decode reply data: %w", err)
		}
	}
	return nil
}

func (c *Client) envelope(rc RequestContext, topic, method string, payload any) (Envelope, error) {
	if topic == "" || method == "" {
		return Envelope{}, errors.New("topic and method are required")
	}
	rc = rc.WithTrace()
	token, err := c.signer.Seal(rc)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		ID:      uuid.NewString(),
		Topic:   topic,
		Method:  method,
		Context: rc,
		Token:   token,
		SentAt:  c.now().UTC(),
	}
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode payload: %w", err)
		}
		env.Payload = data
	}
	return env, nil
}
