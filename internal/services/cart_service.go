package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const maxCartLineQuantity = 99

// ErrCartUnavailable indicates the cart service was not constructed with its dependencies.
var ErrCartUnavailable = errors.New("cart service: unavailable")

type productLookup interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CartServiceDeps wires the repository and catalog lookups used by cart operations.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products productLookup
	Clock    func() time.Time
	Logger   Logger
}

type cartService struct {
	carts    repositories.CartRepository
	products productLookup
	now      func() time.Time
	logger   Logger
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product lookup is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// GetCart returns the owner's cart, or an empty one when nothing has been stored yet.
func (s *cartService) GetCart(ctx context.Context, owner CartOwner) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	if !owner.Valid() {
		return Cart{}, fmt.Errorf("%w: cart owner is required", ErrInvalidInput)
	}
	return s.load(ctx, owner)
}

// AddLine adds quantity of a product, merging into an existing line for the same size.
func (s *cartService) AddLine(ctx context.Context, cmd AddCartLineCommand) (Cart, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if err := validateCartLineInput(cmd.Owner, productID, cmd.Quantity, 1); err != nil {
		return Cart{}, err
	}
	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.load(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}

	size := strings.TrimSpace(cmd.Size)
	now := s.now()
	idx := cart.FindLine(productID, size)
	requested := cart.Quantity(productID) + cmd.Quantity
	if idx >= 0 && cart.Lines[idx].Quantity+cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must not exceed %d", ErrInvalidInput, maxCartLineQuantity)
	}
	if requested > product.Stock {
		return Cart{}, &StockError{ProductID: productID, Available: product.Stock, Requested: requested}
	}

	if idx >= 0 {
		cart.Lines[idx].Quantity += cmd.Quantity
	} else {
		cart.Lines = append(cart.Lines, CartLine{
			ProductID: productID,
			Size:      size,
			Quantity:  cmd.Quantity,
			UnitPrice: product.Price,
			AddedAt:   now,
		})
	}
	return s.save(ctx, cart, now)
}

// UpdateLine sets the line quantity; zero removes the line.
func (s *cartService) UpdateLine(ctx context.Context, cmd UpdateCartLineCommand) (Cart, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if err := validateCartLineInput(cmd.Owner, productID, cmd.Quantity, 0); err != nil {
		return Cart{}, err
	}
	cart, err := s.load(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	idx := cart.FindLine(productID, strings.TrimSpace(cmd.Size))
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: cart line %s not found", ErrNotFound, productID)
	}
	if cmd.Quantity == 0 {
		cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
		return s.save(ctx, cart, s.now())
	}

	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	requested := cart.Quantity(productID) - cart.Lines[idx].Quantity + cmd.Quantity
	if requested > product.Stock {
		return Cart{}, &StockError{ProductID: productID, Available: product.Stock, Requested: requested}
	}
	cart.Lines[idx].Quantity = cmd.Quantity
	return s.save(ctx, cart, s.now())
}

// RemoveLine drops the line for product and size.
func (s *cartService) RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) (Cart, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if !cmd.Owner.Valid() || productID == "" {
		return Cart{}, fmt.Errorf("%w: owner and product are required", ErrInvalidInput)
	}
	cart, err := s.load(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	idx := cart.FindLine(productID, strings.TrimSpace(cmd.Size))
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: cart line %s not found", ErrNotFound, productID)
	}
	cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
	return s.save(ctx, cart, s.now())
}

// Clear removes every line by deleting the stored cart.
func (s *cartService) Clear(ctx context.Context, owner CartOwner) error {
	if s == nil || s.carts == nil {
		return ErrCartUnavailable
	}
	if !owner.Valid() {
		return fmt.Errorf("%w: cart owner is required", ErrInvalidInput)
	}
	if err := s.carts.Delete(ctx, owner); err != nil && !isRepoNotFound(err) {
		return translateRepoError(err)
	}
	return nil
}

// Merge folds the guest cart into the user's cart and deletes the guest cart atomically.
func (s *cartService) Merge(ctx context.Context, cmd MergeCartCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	guest := domain.GuestOwner(cmd.GuestToken)
	user := domain.UserOwner(cmd.UserID)
	if !guest.Valid() || !user.Valid() {
		return Cart{}, fmt.Errorf("%w: guest token and user id are required", ErrInvalidInput)
	}

	levels, err := s.stockLevels(ctx, guest, user)
	if err != nil {
		return Cart{}, err
	}
	now := s.now()
	trimmed := 0
	merged, err := s.carts.Merge(ctx, guest, user, func(guestCart, userCart domain.Cart) (domain.Cart, error) {
		var out Cart
		out, trimmed = capToStock(MergeCarts(guestCart, userCart, user, now), levels)
		return out, nil
	})
	if err != nil {
		return Cart{}, translateRepoError(err)
	}
	s.logger(ctx, "cart.merged", map[string]any{
		"userID":  user.UserID,
		"lines":   len(merged.Lines),
		"trimmed": trimmed,
	})
	return merged, nil
}

// stockLevels reads current stock for every product in either cart. Products
// that are gone or inactive report zero.
func (s *cartService) stockLevels(ctx context.Context, owners ...CartOwner) (map[string]int, error) {
	levels := make(map[string]int)
	for _, owner := range owners {
		cart, err := s.load(ctx, owner)
		if err != nil {
			return nil, err
		}
		for _, line := range cart.Lines {
			if _, seen := levels[line.ProductID]; seen {
				continue
			}
			product, err := s.products.FindByID(ctx, line.ProductID)
			switch {
			case err == nil && product.Active:
				levels[line.ProductID] = product.Stock
			case err == nil || isRepoNotFound(err):
				levels[line.ProductID] = 0
			default:
				return nil, translateRepoError(err)
			}
		}
	}
	return levels, nil
}

// capToStock lowers line quantities so each product's total fits its stock level,
// dropping lines that end at zero. Products missing from levels are left alone.
// It returns the number of units removed.
func capToStock(cart Cart, levels map[string]int) (Cart, int) {
	remaining := make(map[string]int, len(levels))
	for id, level := range levels {
		remaining[id] = level
	}
	trimmed := 0
	lines := make([]CartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if left, ok := remaining[line.ProductID]; ok {
			if left < 0 {
				left = 0
			}
			if line.Quantity > left {
				trimmed += line.Quantity - left
				line.Quantity = left
			}
			remaining[line.ProductID] = left - line.Quantity
		}
		if line.Quantity > 0 {
			lines = append(lines, line)
		}
	}
	cart.Lines = lines
	return cart, trimmed
}

// MergeCarts sums guest quantities into matching user lines and appends the rest.
// The user's price snapshot wins for lines present in both carts, and a summed
// line never exceeds the per-line quantity limit.
func MergeCarts(guest, user Cart, owner CartOwner, now time.Time) Cart {
	out := Cart{
		Owner:     owner,
		Lines:     make([]CartLine, 0, len(user.Lines)+len(guest.Lines)),
		CreatedAt: user.CreatedAt,
		UpdatedAt: now,
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	for _, line := range user.Lines {
		if line.Quantity > 0 {
			out.Lines = append(out.Lines, line)
		}
	}
	for _, line := range guest.Lines {
		if line.Quantity <= 0 {
			continue
		}
		if idx := out.FindLine(line.ProductID, line.Size); idx >= 0 {
			out.Lines[idx].Quantity = min(out.Lines[idx].Quantity+line.Quantity, maxCartLineQuantity)
			if line.AddedAt.Before(out.Lines[idx].AddedAt) {
				out.Lines[idx].AddedAt = line.AddedAt
			}
			continue
		}
		line.Quantity = min(line.Quantity, maxCartLineQuantity)
		out.Lines = append(out.Lines, line)
	}
	return out
}

func (s *cartService) load(ctx context.Context, owner CartOwner) (Cart, error) {
	cart, err := s.carts.Get(ctx, owner)
	if err != nil {
		if isRepoNotFound(err) {
			now := s.now()
			return Cart{Owner: owner, CreatedAt: now, UpdatedAt: now}, nil
		}
		return Cart{}, translateRepoError(err)
	}
	cart.Owner = owner
	return cart, nil
}

func (s *cartService) save(ctx context.Context, cart Cart, now time.Time) (Cart, error) {
	cart.UpdatedAt = now
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, translateRepoError(err)
	}
	return saved, nil
}

func (s *cartService) activeProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, translateRepoError(err)
	}
	if !product.Active {
		return Product{}, fmt.Errorf("%w: product %s is not available", ErrNotFound, productID)
	}
	return product, nil
}

func validateCartLineInput(owner CartOwner, productID string, quantity, minQuantity int) error {
	if !owner.Valid() {
		return fmt.Errorf("%w: cart owner is required", ErrInvalidInput)
	}
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if quantity < minQuantity || quantity > maxCartLineQuantity {
		return fmt.Errorf("%w: quantity must be between %d and %d", ErrInvalidInput, minQuantity, maxCartLineQuantity)
	}
	return nil
}
