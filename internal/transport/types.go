package transport

import (
	"context"
	"errors"
	"sync"

	"skyalert/internal/model"
)

var ErrNoTransport = errors.New("transport: no transport for channel type")

// Transport delivers one rendered payload to its external destination.
// A single attempt's timeout is the transport's responsibility.
type Transport interface {
	Send(ctx context.Context, p model.NotificationPayload) error
}

// Mux routes payloads to the transport registered for their channel type.
// Registration happens at startup; Send is safe for concurrent use.
type Mux struct {
	mu sync.RWMutex
	m  map[model.ChannelType]Transport
}

func NewMux() *Mux {
	return &Mux{m: map[model.ChannelType]Transport{}}
}

func (x *Mux) Register(t model.ChannelType, tr Transport) {
	if tr == nil {
		return
	}
	x.mu.Lock()
	x.m[t] = tr
	x.mu.Unlock()
}

func (x *Mux) Send(ctx context.Context, p model.NotificationPayload) error {
	x.mu.RLock()
	tr := x.m[p.ChannelType]
	x.mu.RUnlock()
	if tr == nil {
		return ErrNoTransport
	}
	return tr.Send(ctx, p)
}
