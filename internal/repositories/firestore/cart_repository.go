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

const cartCollection = "carts"

// CartRepository persists one cart document per owner, keyed by CartOwner.Key.
type CartRepository struct {
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

func (r *CartRepository) ref(ctx context.Context, owner domain.CartOwner) (*firestore.DocumentRef, error) {
	if !owner.Valid() {
		return nil, errors.New("cart repository: exactly one of user id or guest token is required")
	}
	return r.provider.Doc(ctx, cartCollection, owner.Key())
}

// Get loads the owner's cart.
func (r *CartRepository) Get(ctx context.Context, owner domain.CartOwner) (domain.Cart, error) {
	ref, err := r.ref(ctx, owner)
	if err != nil {
		return domain.Cart{}, err
	}
	doc, err := pfirestore.Get[cartDocument](ctx, ref, "carts.get")
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(owner), nil
}

// Save overwrites the owner's cart with the supplied lines.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	ref, err := r.ref(ctx, cart.Owner)
	if err != nil {
		return domain.Cart{}, err
	}
	doc := newCartDocument(cart, time.Now().UTC())
	if _, err := ref.Set(ctx, doc); err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.save", err)
	}
	return doc.toDomain(cart.Owner), nil
}

// Delete removes the owner's cart. Deleting a missing cart succeeds.
func (r *CartRepository) Delete(ctx context.Context, owner domain.CartOwner) error {
	ref, err := r.ref(ctx, owner)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

// Merge folds the guest cart into the user cart and deletes the guest cart in one transaction.
func (r *CartRepository) Merge(ctx context.Context, guest domain.CartOwner, user domain.CartOwner, fn repositories.CartMergeFunc) (domain.Cart, error) {
	if !guest.IsGuest() || user.IsGuest() || !user.Valid() {
		return domain.Cart{}, errors.New("cart repository: merge requires a guest owner and a user owner")
	}
	if fn == nil {
		return domain.Cart{}, errors.New("cart repository: merge function is required")
	}
	guestRef, err := r.ref(ctx, guest)
	if err != nil {
		return domain.Cart{}, err
	}
	userRef, err := r.ref(ctx, user)
	if err != nil {
		return domain.Cart{}, err
	}

	var merged domain.Cart
	err = r.provider.RunTransaction(ctx, "carts.merge", func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll([]*firestore.DocumentRef{guestRef, userRef})
		if err != nil {
			return err
		}
		guestCart, err := cartFromSnapshot(snaps[0], guest)
		if err != nil {
			return err
		}
		userCart, err := cartFromSnapshot(snaps[1], user)
		if err != nil {
			return err
		}

		result, err := fn(guestCart, userCart)
		if err != nil {
			return err
		}
		result.Owner = user
		doc := newCartDocument(result, time.Now().UTC())
		if err := tx.Set(userRef, doc); err != nil {
			return err
		}
		if snaps[0].Exists() {
			if err := tx.Delete(guestRef); err != nil {
				return err
			}
		}
		merged = doc.toDomain(user)
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return merged, nil
}

func cartFromSnapshot(snap *firestore.DocumentSnapshot, owner domain.CartOwner) (domain.Cart, error) {
	if snap == nil || !snap.Exists() {
		return domain.Cart{Owner: owner}, nil
	}
	doc, err := pfirestore.Decode[cartDocument](snap)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart repository: %w", err)
	}
	return doc.toDomain(owner), nil
}

type cartDocument struct {
	UserID     string             `firestore:"userId,omitempty"`
	GuestToken string             `firestore:"guestToken,omitempty"`
	Lines      []cartLineDocument `firestore:"lines"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID string    `firestore:"productId"`
	Size      string    `firestore:"size,omitempty"`
	Quantity  int       `firestore:"qty"`
	UnitPrice int64     `firestore:"unitPrice"`
	AddedAt   time.Time `firestore:"addedAt"`
}

func newCartDocument(cart domain.Cart, now time.Time) cartDocument {
	doc := cartDocument{
		UserID:     cart.Owner.UserID,
		GuestToken: cart.Owner.GuestToken,
		Lines:      make([]cartLineDocument, 0, len(cart.Lines)),
		CreatedAt:  cart.CreatedAt.UTC(),
		UpdatedAt:  now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	for _, line := range cart.Lines {
		doc.Lines = append(doc.Lines, cartLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			Size:      strings.TrimSpace(line.Size),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			AddedAt:   line.AddedAt.UTC(),
		})
		doc.ItemsCount += line.Quantity
	}
	return doc
}

func (d cartDocument) toDomain(owner domain.CartOwner) domain.Cart {
	cart := domain.Cart{
		Owner:     owner,
		Lines:     make([]domain.CartLine, 0, len(d.Lines)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, line := range d.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID: line.ProductID,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			AddedAt:   line.AddedAt,
		})
	}
	return cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)
