package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	productCollection = "products"
	// Stock counters are the most contended documents in checkout and reconciliation.
	stockTxAttempts = 10
)

// ProductRepository reads catalog entries and owns the per-product stock counter.
type ProductRepository struct {
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider}, nil
}

// FindByID returns the catalog entry including current stock.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	ref, err := r.provider.Doc(ctx, productCollection, productID)
	if err != nil {
		return domain.Product{}, err
	}
	doc, err := pfirestore.Get[productDocument](ctx, ref, "products.get")
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

// Adjust applies delta to the stock counter in its own transaction. The
// counter never goes below zero: a decrement past the floor is rejected.
func (r *ProductRepository) Adjust(ctx context.Context, productID string, delta int, at time.Time) (int, error) {
	productID = strings.TrimSpace(productID)
	if delta == 0 {
		return 0, errors.New("product repository: delta must not be zero")
	}
	ref, err := r.provider.Doc(ctx, productCollection, productID)
	if err != nil {
		return 0, err
	}

	var level int
	err = r.provider.RunTransaction(ctx, "products.adjust", func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := pfirestore.TxGet[productDocument](tx, ref, "products.adjust")
		if err != nil {
			return err
		}
		next := doc.Stock + delta
		if next < 0 {
			return repositories.NewInsufficientStockError(productID, doc.Stock, -delta)
		}
		level = next
		return tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: next},
			{Path: "updatedAt", Value: at.UTC()},
		})
	}, pfirestore.WithTxAttempts(stockTxAttempts))
	if err != nil {
		return 0, err
	}
	return level, nil
}

// stockLedger applies several adjustments inside an existing transaction.
// Reads happen in load; apply only buffers writes.
type stockLedger struct {
	refs   map[string]*firestore.DocumentRef
	levels map[string]int
	exists map[string]bool
}

func loadStockLedger(ctx context.Context, provider *pfirestore.Provider, tx *firestore.Transaction, adjustments []domain.StockAdjustment) (*stockLedger, error) {
	ledger := &stockLedger{
		refs:   make(map[string]*firestore.DocumentRef),
		levels: make(map[string]int),
		exists: make(map[string]bool),
	}
	refs := make([]*firestore.DocumentRef, 0, len(adjustments))
	for _, adj := range adjustments {
		if _, seen := ledger.refs[adj.ProductID]; seen {
			continue
		}
		ref, err := provider.Doc(ctx, productCollection, adj.ProductID)
		if err != nil {
			return nil, err
		}
		ledger.refs[adj.ProductID] = ref
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return ledger, nil
	}
	snaps, err := tx.GetAll(refs)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		id := snap.Ref.ID
		if !snap.Exists() {
			continue
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return nil, fmt.Errorf("stock ledger: %w", err)
		}
		ledger.exists[id] = true
		ledger.levels[id] = doc.Stock
	}
	return ledger, nil
}

// decrement lowers stock, clamping at zero. Units that could not be taken are returned as backorders.
func (l *stockLedger) decrement(adjustments []domain.StockAdjustment) []domain.StockAdjustment {
	var backorders []domain.StockAdjustment
	for _, adj := range adjustments {
		have := l.levels[adj.ProductID]
		take := min(have, adj.Quantity)
		l.levels[adj.ProductID] = have - take
		if short := adj.Quantity - take; short > 0 {
			backorders = append(backorders, domain.StockAdjustment{ProductID: adj.ProductID, Quantity: short})
		}
	}
	return backorders
}

func (l *stockLedger) increment(adjustments []domain.StockAdjustment) {
	for _, adj := range adjustments {
		if l.exists[adj.ProductID] {
			l.levels[adj.ProductID] += adj.Quantity
		}
	}
}

func (l *stockLedger) write(tx *firestore.Transaction, at time.Time) error {
	for id, level := range l.levels {
		if !l.exists[id] {
			continue
		}
		if err := tx.Update(l.refs[id], []firestore.Update{
			{Path: "stock", Value: level},
			{Path: "updatedAt", Value: at},
		}); err != nil {
			return err
		}
	}
	return nil
}

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	ImageURL  string    `firestore:"imageUrl,omitempty"`
	Stock     int       `firestore:"stock"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:       id,
		Name:     strings.TrimSpace(d.Name),
		Price:    d.Price,
		ImageURL: strings.TrimSpace(d.ImageURL),
		Stock:    d.Stock,
		Active:   d.Active,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
