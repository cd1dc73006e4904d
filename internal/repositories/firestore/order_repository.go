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
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	orderCollection       = "orders"
	orderNumberCollection = "orderNumbers"
	paymentCollection     = "payments"
)

// OrderRepository persists orders under their internal id, a unique order-number
// index document per order, and payment records keyed by gateway intent id.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Insert creates the order together with its order-number index document. A
// number already in use fails the Create with a conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order repository: order id and number are required")
	}
	orderRef, err := r.provider.Doc(ctx, orderCollection, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := r.provider.Doc(ctx, orderNumberCollection, order.OrderNumber)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, "orders.insert", func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(orderRef, newOrderDocument(order))
	})
}

// AttachPayment creates the payment record and links its intent to the order.
// Re-attaching the same intent is a no-op.
func (r *OrderRepository) AttachPayment(ctx context.Context, orderID string, payment domain.Payment) (domain.Order, error) {
	if strings.TrimSpace(payment.IntentID) == "" {
		return domain.Order{}, errors.New("order repository: payment intent id is required")
	}
	orderRef, err := r.provider.Doc(ctx, orderCollection, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	paymentRef, err := r.provider.Doc(ctx, paymentCollection, payment.IntentID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, "orders.attach_payment", func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll([]*firestore.DocumentRef{orderRef, paymentRef})
		if err != nil {
			return err
		}
		if !snaps[0].Exists() {
			return pfirestore.NotFound("orders.attach_payment", "order %s not found", orderID)
		}
		doc, err := pfirestore.Decode[orderDocument](snaps[0])
		if err != nil {
			return err
		}
		order := doc.toDomain(orderID)
		if snaps[1].Exists() {
			existing, err := pfirestore.Decode[paymentDocument](snaps[1])
			if err != nil {
				return err
			}
			if existing.OrderID != orderID {
				return pfirestore.Conflict("orders.attach_payment", "intent %s belongs to order %s", payment.IntentID, existing.OrderID)
			}
			updated = order
			return nil
		}
		if order.PaymentStatus != domain.PaymentStatusPending || order.Status != domain.OrderStatusPending {
			return repositories.NewLifecycleError(repositories.LifecycleErrorInvalidState, fmt.Sprintf("order %s is no longer pending", order.OrderNumber), nil)
		}
		if order.PaymentIntentID != "" && order.PaymentIntentID != payment.IntentID {
			return repositories.NewLifecycleError(repositories.LifecycleErrorInvalidState, fmt.Sprintf("order %s already has intent %s", order.OrderNumber, order.PaymentIntentID), nil)
		}

		payment.OrderID = orderID
		payment.OrderNumber = order.OrderNumber
		if err := tx.Create(paymentRef, newPaymentDocument(payment)); err != nil {
			return err
		}
		order.PaymentIntentID = payment.IntentID
		order.UpdatedAt = payment.CreatedAt
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "paymentIntentId", Value: payment.IntentID},
			{Path: "updatedAt", Value: order.UpdatedAt.UTC()},
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// FindByID loads an order by internal id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.provider.Doc(ctx, orderCollection, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := pfirestore.Get[orderDocument](ctx, ref, "orders.get")
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(ref.ID), nil
}

// FindByNumber resolves the order-number index and loads the order.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	ref, err := r.provider.Doc(ctx, orderNumberCollection, strings.TrimSpace(orderNumber))
	if err != nil {
		return domain.Order{}, err
	}
	index, err := pfirestore.Get[orderNumberDocument](ctx, ref, "orders.find_by_number")
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, index.OrderID)
}

// FindPayment loads the payment record for a gateway intent.
func (r *OrderRepository) FindPayment(ctx context.Context, intentID string) (domain.Payment, error) {
	ref, err := r.provider.Doc(ctx, paymentCollection, strings.TrimSpace(intentID))
	if err != nil {
		return domain.Payment{}, err
	}
	doc, err := pfirestore.Get[paymentDocument](ctx, ref, "payments.get")
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.toDomain(ref.ID), nil
}

// ListByUser returns the user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}
	coll, err := r.provider.Collection(ctx, orderCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Where("userId", "==", userID)
	docs, next, err := pageByCreatedAt[orderDocument](ctx, query, pager, "orders.list")
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

// UpdateStatus applies an admin fulfillment transition.
func (r *OrderRepository) UpdateStatus(ctx context.Context, cmd repositories.OrderStatusUpdate) (domain.Order, error) {
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, "orders.update_status", func(ctx context.Context, tx *firestore.Transaction) error {
		ref, order, err := txOrderByNumber(ctx, r.provider, tx, cmd.OrderNumber)
		if err != nil {
			return err
		}
		if cmd.Expected != nil && *cmd.Expected != order.Status {
			return pfirestore.Conflict("orders.update_status", "order %s is %s, expected %s", order.OrderNumber, order.Status, *cmd.Expected)
		}
		if order.Status == cmd.Target {
			updated = order
			return nil
		}
		if !domain.CanTransitionOrder(order.Status, cmd.Target) {
			return repositories.NewLifecycleError(repositories.LifecycleErrorInvalidState,
				fmt.Sprintf("order %s cannot move from %s to %s", order.OrderNumber, order.Status, cmd.Target), domain.ErrInvalidTransition)
		}
		order.Status = cmd.Target
		order.UpdatedAt = cmd.At.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(order.Status)},
			{Path: "updatedAt", Value: order.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func txOrderByNumber(ctx context.Context, provider *pfirestore.Provider, tx *firestore.Transaction, orderNumber string) (*firestore.DocumentRef, domain.Order, error) {
	numberRef, err := provider.Doc(ctx, orderNumberCollection, strings.TrimSpace(orderNumber))
	if err != nil {
		return nil, domain.Order{}, err
	}
	index, err := pfirestore.TxGet[orderNumberDocument](tx, numberRef, "orders.find_by_number")
	if err != nil {
		return nil, domain.Order{}, err
	}
	return txOrderByID(ctx, provider, tx, index.OrderID)
}

func txOrderByID(ctx context.Context, provider *pfirestore.Provider, tx *firestore.Transaction, orderID string) (*firestore.DocumentRef, domain.Order, error) {
	ref, err := provider.Doc(ctx, orderCollection, orderID)
	if err != nil {
		return nil, domain.Order{}, err
	}
	doc, err := pfirestore.TxGet[orderDocument](tx, ref, "orders.get")
	if err != nil {
		return nil, domain.Order{}, err
	}
	return ref, doc.toDomain(orderID), nil
}

// pageByCreatedAt runs query ordered by createdAt desc then document id desc,
// fetching one extra document to decide whether a next page exists.
func pageByCreatedAt[T timestamped](ctx context.Context, query firestore.Query, pager domain.Pagination, op string) ([]pfirestore.Snapshot[T], string, error) {
	limit := pager.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		at, id, err := pagination.DecodeTimeCursor(token)
		if err != nil {
			return nil, "", err
		}
		query = query.StartAfter(at, id)
	}
	docs, err := pfirestore.Collect[T](query.Limit(limit+1).Documents(ctx), op)
	if err != nil {
		return nil, "", err
	}
	if len(docs) <= limit {
		return docs, "", nil
	}
	docs = docs[:limit]
	last := docs[limit-1]
	next, err := pagination.EncodeTimeCursor(last.Data.created(), last.ID)
	if err != nil {
		return nil, "", err
	}
	return docs, next, nil
}

type timestamped interface {
	created() time.Time
}

func (d orderDocument) created() time.Time { return d.CreatedAt }

var _ repositories.OrderRepository = (*OrderRepository)(nil)
