package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	popTimeout = time.Second
	replyTTL   = 5 * time.Minute
)

// Server consumes one topic and dispatches each message to a handler.
type Server struct {
	broker     Broker
	topic      string
	dispatcher *Dispatcher
	signer     Signer
	consumers  int
	logger     *slog.Logger
	metrics    *serverMetrics
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithConsumers sets how many messages are handled concurrently.
func WithConsumers(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.consumers = n
		}
	}
}

// WithRegisterer records handler metrics on reg.
func WithRegisterer(reg prometheus.Registerer) ServerOption {
	return func(s *Server) {
		s.metrics = newServerMetrics(reg)
	}
}

// NewServer constructs a Server for topic.
func NewServer(broker Broker, topic string, dispatcher *Dispatcher, signer Signer, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		broker:     broker,
		topic:      topic,
		dispatcher: dispatcher,
		signer:     signer,
		consumers:  1,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newServerMetrics(nil)
	}
	return s
}

// Serve runs the consumers until ctx is cancelled and waits for in-flight
// handlers to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("bus server consuming", "topic", s.topic, "consumers", s.consumers, "methods", s.dispatcher.Methods())
	var wg sync.WaitGroup
	for i := 0; i < s.consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consume(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Server) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		data, err := s.broker.Pop(ctx, s.topic, popTimeout)
		if err != nil {
			if errors.Is(err, ErrEmpty) || ctx.Err() != nil {
				continue
			}
			s.logger.Error("pop failed", "topic", s.topic, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(popTimeout):
			}
			continue
		}
		// In-flight handlers run to completion after shutdown is requested.
		s.handle(context.WithoutCancel(ctx), data)
	}
}

func (s *Server) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		s.logger.Error("dropping undecodable message", "topic", s.topic, "error", err)
		return
	}
	log := s.logger.With("topic", s.topic, "method", env.Method, "message_id", env.ID)

	rc, err := s.signer.Open(env)
	if err != nil {
		log.Warn("rejecting message with invalid context", "error", err)
		s.reply(ctx, log, env, nil, err)
		return
	}
	log = log.With("trace_id", rc.TraceID)

	start := time.Now()
	result, err := s.safeDispatch(ctx, rc, env)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if env.ReplyTo == "" {
			log.Error("cast handler failed", "error", err)
		} else {
			log.Warn("call handler failed", "error", err)
		}
	}
	s.metrics.observe(s.topic, env.Method, outcome, time.Since(start))
	s.reply(ctx, log, env, result, err)
}

func (s *Server) safeDispatch(ctx context.Context, rc RequestContext, env Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(ctx, rc, env.Method, env.Payload)
}

func (s *Server) reply(ctx context.Context, log *slog.Logger, env Envelope, result any, handlerErr error) {
	if env.ReplyTo == "" {
		return
	}
	reply := Reply{OK: handlerErr == nil}
	if handlerErr != nil {
		reply.Error = handlerErr.Error()
	} else if result != nil {
		data, err := Marshal(result)
		if err != nil {
			reply = Reply{Error: fmt.Sprintf("internal: encoding reply: %v", err)}
		} else {
			reply.Data = data
		}
	}
	data, err := Marshal(reply)
	if err != nil {
		log.Error("encode reply", "error", err)
		return
	}
	if err := s.broker.Push(ctx, env.ReplyTo, data, replyTTL); err != nil {
		log.Error("send reply", "error", err)
	}
}
