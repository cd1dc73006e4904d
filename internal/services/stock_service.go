package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/repositories"
)

// StockServiceDeps wires the product repository that owns the stock counters.
type StockServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   Logger
}

type stockService struct {
	products repositories.ProductRepository
	now      func() time.Time
	logger   Logger
}

// NewStockService constructs the stock ledger service.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockService{
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *stockService) Available(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return 0, translateRepoError(err)
	}
	return product.Stock, nil
}

// Decrement removes quantity units; the storage layer rejects a result below zero.
func (s *stockService) Decrement(ctx context.Context, productID string, quantity int) (int, error) {
	return s.adjust(ctx, productID, -quantity, quantity)
}

func (s *stockService) Increment(ctx context.Context, productID string, quantity int) (int, error) {
	return s.adjust(ctx, productID, quantity, quantity)
}

func (s *stockService) adjust(ctx context.Context, productID string, delta, quantity int) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || quantity <= 0 {
		return 0, fmt.Errorf("%w: product id and a positive quantity are required", ErrInvalidInput)
	}
	level, err := s.products.Adjust(ctx, productID, delta, s.now())
	if err != nil {
		return 0, translateRepoError(err)
	}
	s.logger(ctx, "stock.adjusted", map[string]any{
		"productID": productID,
		"delta":     delta,
		"level":     level,
	})
	return level, nil
}
