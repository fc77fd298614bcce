package deployer

import (
	"context"

	"github.com/splax/conveyor/internal/bus"
)

// Caster is the send half of the bus.
type Caster interface {
	Cast(ctx context.Context, rc bus.RequestContext, topic, method string, payload any) error
}

// Client casts deployment requests.
type Client struct {
	bus Caster
}

// NewClient constructs a Client.
func NewClient(b Caster) *Client {
	return &Client{bus: b}
}

// Deploy casts a deploy request.
func (c *Client) Deploy(ctx context.Context, rc bus.RequestContext, req DeployRequest) error {
	return c.bus.Cast(ctx, rc, Topic, MethodDeploy, req)
}

// Scale casts a scale request.
func (c *Client) Scale(ctx context.Context, rc bus.RequestContext, req ScaleRequest) error {
	return c.bus.Cast(ctx, rc, Topic, MethodScale, req)
}

// DestroyAssembly casts an assembly teardown.
func (c *Client) DestroyAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string) error {
	return c.bus.Cast(ctx, rc, Topic, MethodDestroyAssembly, DestroyAssemblyRequest{AssemblyID: assemblyID})
}

// DestroyApp casts a teardown of every assembly of a plan.
func (c *Client) DestroyApp(ctx context.Context, rc bus.RequestContext, planID string) error {
	return c.bus.Cast(ctx, rc, Topic, MethodDestroyApp, DestroyAppRequest{PlanID: planID})
}
