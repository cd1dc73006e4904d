package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the repositories.Registry contract.
type Registry struct {
	provider  *pfirestore.Provider
	carts     *CartRepository
	products  *ProductRepository
	orders    *OrderRepository
	refunds   *RefundRepository
	lifecycle *LifecycleRepository
	health    repositories.HealthRepository
}

// NewRegistry builds every repository on top of the shared provider. Extra
// dependency checks are probed alongside Firestore by the health repository.
func NewRegistry(provider *pfirestore.Provider, checks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.refunds, err = NewRefundRepository(provider); err != nil {
		return nil, err
	}
	if reg.lifecycle, err = NewLifecycleRepository(provider); err != nil {
		return nil, err
	}

	all := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check:   provider.Ping,
	}}, checks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(all); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Refunds() repositories.RefundRepository { return r.refunds }

func (r *Registry) Lifecycle() repositories.LifecycleRepository { return r.lifecycle }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

var _ repositories.Registry = (*Registry)(nil)
