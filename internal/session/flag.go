// Package session holds the durable "console is authenticated" flag.
// The flag has no expiry: it stays set until an explicit logout.
package session

import (
	"context"
	"fmt"

	"github.com/unnet/isp-console/internal/kvstore"
)

const Key = "admin_authenticated"

type Flag struct {
	store kvstore.Store
}

func NewFlag(store kvstore.Store) *Flag {
	return &Flag{store: store}
}

// Authenticated reports the persisted flag. Anything but "true" reads as false.
func (f *Flag) Authenticated(ctx context.Context) (bool, error) {
	v, ok, err := f.store.Get(ctx, Key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", Key, err)
	}
	return ok && v == "true", nil
}

func (f *Flag) Set(ctx context.Context, authenticated bool) error {
	v := "false"
	if authenticated {
		v = "true"
	}
	if err := f.store.Set(ctx, Key, v); err != nil {
		return fmt.Errorf("save %s: %w", Key, err)
	}
	return nil
}
