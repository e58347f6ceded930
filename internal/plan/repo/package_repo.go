package repo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/unnet/isp-console/internal/plan/entity"
)

// Doer is the subset of apiclient.Client the repo needs.
type Doer interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
	Delete(ctx context.Context, path string) error
}

// Repo manages service packages through the backend API.
type Repo struct {
	api Doer
}

func NewRepo(api Doer) *Repo {
	return &Repo{api: api}
}

// List returns all packages in server order.
func (r *Repo) List(ctx context.Context) ([]entity.Package, error) {
	var out []entity.Package
	if err := r.api.Get(ctx, "packages", &out); err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return out, nil
}

// Create submits a new package. The response body is ignored; callers
// re-fetch the list to learn the assigned id.
func (r *Repo) Create(ctx context.Context, p entity.Package) error {
	p.ID = nil
	if err := r.api.Post(ctx, "packages", p, nil); err != nil {
		return fmt.Errorf("create package: %w", err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id int64) error {
	if err := r.api.Delete(ctx, "packages/"+strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("delete package %d: %w", id, err)
	}
	return nil
}
