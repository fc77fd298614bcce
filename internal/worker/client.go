package worker

import (
	"context"

	"github.com/splax/conveyor/internal/bus"
)

// Sender is the bus surface the client needs.
type Sender interface {
	Cast(ctx context.Context, rc bus.RequestContext, topic, method string, payload any) error
	Call(ctx context.Context, rc bus.RequestContext, topic, method string, payload, result any) error
}

// Client sends work to the worker pool.
type Client struct {
	bus Sender
}

// NewClient constructs a Client.
func NewClient(b Sender) *Client {
	return &Client{bus: b}
}

// Build casts a build request.
func (c *Client) Build(ctx context.Context, rc bus.RequestContext, req BuildRequest) error {
	return c.bus.Cast(ctx, rc, Topic, MethodBuild, req)
}

// UnitTest casts a unit-test request.
func (c *Client) UnitTest(ctx context.Context, rc bus.RequestContext, req BuildRequest) error {
	return c.bus.Cast(ctx, rc, Topic, MethodUnitTest, req)
}

// Echo waits for a worker to answer message.
func (c *Client) Echo(ctx context.Context, rc bus.RequestContext, message string) (string, error) {
	var reply EchoReply
	if err := c.bus.Call(ctx, rc, Topic, MethodEcho, EchoRequest{Message: message}, &reply); err != nil {
		return "", err
	}
	return reply.Message, nil
}
