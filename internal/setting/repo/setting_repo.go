package repo

import (
	"context"
	"fmt"

	"github.com/unnet/isp-console/internal/setting/entity"
)

// Doer is the subset of apiclient.Client the repo needs.
type Doer interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
}

// Repo reads and writes site settings through the backend API.
type Repo struct {
	api Doer
}

// NewRepo constructs a Repo over an API client.
func NewRepo(api Doer) *Repo {
	return &Repo{api: api}
}

// List returns every setting in server order.
func (r *Repo) List(ctx context.Context) ([]entity.Setting, error) {
	var out []entity.Setting
	if err := r.api.Get(ctx, "settings", &out); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

// Save persists one key. The backend upserts.
func (r *Repo) Save(ctx context.Context, key, value string) error {
	if err := r.api.Post(ctx, "settings", entity.Setting{Key: key, Value: value}, nil); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}
