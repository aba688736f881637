package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/angelmondragon/cartsync/pkg/logger"
)

// OriginBridge marks hydrate requests raised for notifications from another instance.
const OriginBridge = "bridge"

const outboundBuffer = 64

// PubSub is the transport the bridge needs; pkg/redis.Client satisfies it.
type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
}

type wireMessage struct {
	Instance string          `json:"instance"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type relayedKey struct{}

// Relayed reports whether ctx belongs to a dispatch started by the bridge.
// Events published on such a context are never forwarded again.
func Relayed(ctx context.Context) bool {
	v, _ := ctx.Value(relayedKey{}).(bool)
	return v
}

// RedisBridge forwards local bus notifications to other instances and turns
// their notifications into local HydrateRequests. There is no ordering across
// instances.
type RedisBridge struct {
	bus      *Bus
	ps       PubSub
	channel  string
	instance string
	logg     *logger.Logger

	outbound chan wireMessage

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	closeSub    func() error
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type BridgeParams struct {
	Bus        *Bus
	PubSub     PubSub
	Channel    string
	InstanceID string
	Logger     *logger.Logger
}

func NewRedisBridge(params BridgeParams) (*RedisBridge, error) {
	if params.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub is required")
	}
	if params.Channel == "" {
		return nil, errors.New("channel is required")
	}
	if params.InstanceID == "" {
		return nil, errors.New("instance id is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisBridge{
		bus:      params.Bus,
		ps:       params.PubSub,
		channel:  params.Channel,
		instance: params.InstanceID,
		logg:     logg,
		outbound: make(chan wireMessage, outboundBuffer),
	}, nil
}

// Start subscribes to the channel and to the local bus. It returns once the
// remote subscription is confirmed.
func (b *RedisBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("bridge already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, closeSub, err := b.ps.Subscribe(runCtx, b.channel)
	if err != nil {
		cancel()
		return err
	}

	b.started = true
	b.cancel = cancel
	b.closeSub = closeSub
	b.unsubscribe = b.bus.Subscribe(b.forward)

	runCtx = b.logg.WithInstance(runCtx, b.instance)
	b.wg.Add(2)
	go b.receiveLoop(runCtx, msgs)
	go b.sendLoop(runCtx)
	return nil
}

// Close stops forwarding and waits for the bridge goroutines.
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.unsubscribe()
	b.cancel()
	closeSub := b.closeSub
	b.mu.Unlock()

	var err error
	if closeSub != nil {
		err = closeSub()
	}
	b.wg.Wait()
	return err
}

func (b *RedisBridge) forward(ctx context.Context, ev Event) {
	if Relayed(ctx) {
		return
	}
	name, payload, err := Encode(ev)
	if err != nil {
		b.logg.WarnErr(ctx, "bridge encode failed", err)
		return
	}
	select {
	case b.outbound <- wireMessage{Instance: b.instance, Event: name, Payload: payload}:
	default:
		b.logg.Warn(b.logg.WithField(ctx, "event", name), "bridge outbound buffer full, dropping notification")
	}
}

func (b *RedisBridge) sendLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbound:
			raw, err := json.Marshal(msg)
			if err != nil {
				b.logg.WarnErr(ctx, "bridge marshal failed", err)
				continue
			}
			if err := b.ps.Publish(ctx, b.channel, string(raw)); err != nil && ctx.Err() == nil {
				b.logg.WarnErr(b.logg.WithField(ctx, "event", msg.Event), "bridge publish failed", err)
			}
		}
	}
}

func (b *RedisBridge) receiveLoop(ctx context.Context, msgs <-chan string) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			b.handleRemote(ctx, raw)
		}
	}
}

func (b *RedisBridge) handleRemote(ctx context.Context, raw string) {
	var msg wireMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		b.logg.WarnErr(ctx, "bridge received malformed message", err)
		return
	}
	if msg.Instance == b.instance {
		return
	}
	if _, err := Decode(msg.Event, msg.Payload); err != nil {
		b.logg.WarnErr(b.logg.WithField(ctx, "remote_instance", msg.Instance), "bridge received unknown event", err)
		return
	}
	b.bus.Publish(context.WithValue(ctx, relayedKey{}, true), HydrateRequest{Origin: OriginBridge})
}
