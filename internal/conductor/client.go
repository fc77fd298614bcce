package conductor

import (
	"context"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/domain"
)

// Caster is the send half of the bus.
type Caster interface {
	Cast(ctx context.Context, rc bus.RequestContext, topic, method string, payload any) error
}

// Reporter is how workers and deployers report state. They never write the store.
type Reporter interface {
	BuildJobUpdate(ctx context.Context, rc bus.RequestContext, msg BuildJobUpdate) error
	UpdateAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string, status domain.AssemblyStatus, applicationURI string) error
	UpdateImage(ctx context.Context, rc bus.RequestContext, msg ImageUpdate) error
	RegisterComponent(ctx context.Context, rc bus.RequestContext, msg ComponentRegistration) error
	DeleteAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string) error
}

// SequenceObserver is implemented by reporters whose sequence can be advanced past
// a value stamped by another process.
type SequenceObserver interface {
	ObserveSeq(seq uint64)
}

// ObserveSeq advances r's sequence past seq when r supports it.
func ObserveSeq(r Reporter, seq uint64) {
	if o, ok := r.(SequenceObserver); ok {
		o.ObserveSeq(seq)
	}
}

// Client casts status messages to the conductor, stamping each with a sequence number.
type Client struct {
	bus Caster
	seq *domain.Sequencer
}

var _ Reporter = (*Client)(nil)

// NewClient constructs a Client.
func NewClient(b Caster, seq *domain.Sequencer) *Client {
	if seq == nil {
		seq = domain.NewSequencer()
	}
	return &Client{bus: b, seq: seq}
}

// ObserveSeq makes later updates from c order after seq.
func (c *Client) ObserveSeq(seq uint64) {
	c.seq.Observe(seq)
}

// BuildJobUpdate casts a build outcome.
func (c *Client) BuildJobUpdate(ctx context.Context, rc bus.RequestContext, msg BuildJobUpdate) error {
	if msg.Seq == 0 {
		msg.Seq = c.seq.Next()
	}
	return c.bus.Cast(ctx, rc, Topic, MethodBuildJobUpdate, msg)
}

// UpdateAssembly casts an assembly status change.
func (c *Client) UpdateAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string, status domain.AssemblyStatus, applicationURI string) error {
	return c.bus.Cast(ctx, rc, Topic, MethodUpdateAssembly, AssemblyUpdate{
		AssemblyID:     assemblyID,
		Status:         string(status),
		ApplicationURI: applicationURI,
		Seq:            c.seq.Next(),
	})
}

// UpdateImage casts an image status change.
func (c *Client) UpdateImage(ctx context.Context, rc bus.RequestContext, msg ImageUpdate) error {
	if msg.Seq == 0 {
		msg.Seq = c.seq.Next()
	}
	return c.bus.Cast(ctx, rc, Topic, MethodUpdateImage, msg)
}

// RegisterComponent casts a component registration.
func (c *Client) RegisterComponent(ctx context.Context, rc bus.RequestContext, msg ComponentRegistration) error {
	return c.bus.Cast(ctx, rc, Topic, MethodRegisterComponent, msg)
}

// DeleteAssembly casts an assembly deletion.
func (c *Client) DeleteAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string) error {
	return c.bus.Cast(ctx, rc, Topic, MethodDeleteAssembly, AssemblyDeletion{AssemblyID: assemblyID})
}
