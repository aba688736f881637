package cart

import (
	"context"

	"github.com/angelmondragon/cartsync/internal/cartline"
	"github.com/angelmondragon/cartsync/internal/events"
	"github.com/angelmondragon/cartsync/internal/remotecart"
)

// RemoteCart is the Remote Cart Service surface the engine drives.
type RemoteCart interface {
	List(ctx context.Context) ([]map[string]any, error)
	AddLine(ctx context.Context, productID int64, qty int) error
	AddLines(ctx context.Context, lines []remotecart.LineInput) error
	RemoveProduct(ctx context.Context, productID int64) error
	Clear(ctx context.Context) error
}

// TokenGate decides whether remote calls are attempted at all.
type TokenGate interface {
	IsAuthenticated(ctx context.Context) bool
}

// SnapshotStore is the fail-soft persistence of the canonical cart.
type SnapshotStore interface {
	Load(ctx context.Context) []cartline.Line
	Save(ctx context.Context, lines []cartline.Line)
}

// EventBus is where count and hydrate notifications go.
type EventBus interface {
	Publish(ctx context.Context, ev events.Event)
	Subscribe(fn events.Handler) func()
}
