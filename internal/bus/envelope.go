package bus

import "time"

// Envelope is the unit pushed onto a topic queue.
type Envelope struct {
	ID      string         `cbor:"id"`
	Topic   string         `cbor:"topic"`
	Method  string         `cbor:"method"`
	Context RequestContext `cbor:"context"`
	Token   string         `cbor:"token,omitempty"`
	Payload RawMessage     `cbor:"payload,omitempty"`
	ReplyTo string         `cbor:"reply_to,omitempty"`
	SentAt  time.Time      `cbor:"sent_at"`
}

// Reply answers a Call: {ok: true, data: ...} or {ok: false, error: "..."}.
type Reply struct {
	OK    bool       `cbor:"ok"`
	Error string     `cbor:"error,omitempty"`
	Data  RawMessage `cbor:"data,omitempty"`
}
