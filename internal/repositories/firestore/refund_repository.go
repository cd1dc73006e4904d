package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const refundCollection = "refunds"

// RefundRepository persists refund requests.
type RefundRepository struct {
	provider *pfirestore.Provider
}

// NewRefundRepository constructs a Firestore-backed refund repository.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	return &RefundRepository{provider: provider}, nil
}

// InsertPending re-reads the order, runs guard against it and creates the
// refund only when no other pending or succeeded refund exists for the order.
func (r *RefundRepository) InsertPending(ctx context.Context, refund domain.Refund, guard repositories.RefundGuard) (domain.Refund, error) {
	if strings.TrimSpace(refund.ID) == "" {
		return domain.Refund{}, errors.New("refund repository: refund id is required")
	}
	refundRef, err := r.provider.Doc(ctx, refundCollection, refund.ID)
	if err != nil {
		return domain.Refund{}, err
	}
	coll, err := r.provider.Collection(ctx, refundCollection)
	if err != nil {
		return domain.Refund{}, err
	}

	var created domain.Refund
	err = r.provider.RunTransaction(ctx, "refunds.insert", func(ctx context.Context, tx *firestore.Transaction) error {
		_, order, err := txOrderByNumber(ctx, r.provider, tx, refund.OrderNumber)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(order); err != nil {
				return err
			}
		}

		active := coll.Where("orderId", "==", order.ID).
			Where("status", "in", []string{string(domain.RefundStatusPending), string(domain.RefundStatusSucceeded)}).
			Limit(1)
		existing, err := pfirestore.Collect[refundDocument](tx.Documents(active), "refunds.active")
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return repositories.NewLifecycleError(repositories.LifecycleErrorRefundActive,
				fmt.Sprintf("order %s already has refund %s (%s)", order.OrderNumber, existing[0].ID, existing[0].Data.Status), nil)
		}

		pending := refund
		pending.OrderID = order.ID
		pending.Status = domain.RefundStatusPending
		if pending.Currency == "" {
			pending.Currency = order.Totals.Currency
		}
		if err := tx.Create(refundRef, newRefundDocument(pending)); err != nil {
			return err
		}
		created = pending
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}
	return created, nil
}

// FindByID loads one refund.
func (r *RefundRepository) FindByID(ctx context.Context, refundID string) (domain.Refund, error) {
	ref, err := r.provider.Doc(ctx, refundCollection, strings.TrimSpace(refundID))
	if err != nil {
		return domain.Refund{}, err
	}
	doc, err := pfirestore.Get[refundDocument](ctx, ref, "refunds.get")
	if err != nil {
		return domain.Refund{}, err
	}
	return doc.toDomain(ref.ID), nil
}

// ListByOrder returns every refund recorded for the order, oldest first.
func (r *RefundRepository) ListByOrder(ctx context.Context, orderNumber string) ([]domain.Refund, error) {
	coll, err := r.provider.Collection(ctx, refundCollection)
	if err != nil {
		return nil, err
	}
	docs, err := pfirestore.Collect[refundDocument](coll.Where("orderNumber", "==", strings.TrimSpace(orderNumber)).Documents(ctx), "refunds.list_by_order")
	if err != nil {
		return nil, err
	}
	refunds := make([]domain.Refund, 0, len(docs))
	for _, doc := range docs {
		refunds = append(refunds, doc.Data.toDomain(doc.ID))
	}
	sort.SliceStable(refunds, func(i, j int) bool { return refunds[i].CreatedAt.Before(refunds[j].CreatedAt) })
	return refunds, nil
}

// ListByStatus pages through refunds in one status, newest first.
func (r *RefundRepository) ListByStatus(ctx context.Context, status domain.RefundStatus, pager domain.Pagination) (domain.CursorPage[domain.Refund], error) {
	coll, err := r.provider.Collection(ctx, refundCollection)
	if err != nil {
		return domain.CursorPage[domain.Refund]{}, err
	}
	docs, next, err := pageByCreatedAt[refundDocument](ctx, coll.Where("status", "==", string(status)), pager, "refunds.list_by_status")
	if err != nil {
		return domain.CursorPage[domain.Refund]{}, err
	}
	items := make([]domain.Refund, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Refund]{Items: items, NextPageToken: next}, nil
}

type refundDocument struct {
	OrderID         string               `firestore:"orderId"`
	OrderNumber     string               `firestore:"orderNumber"`
	Amount          int64                `firestore:"amount"`
	Currency        string               `firestore:"currency"`
	Reason          string               `firestore:"reason"`
	Type            string               `firestore:"type"`
	Status          string               `firestore:"status"`
	Items           []refundItemDocument `firestore:"items,omitempty"`
	Description     string               `firestore:"description,omitempty"`
	GatewayRefundID string               `firestore:"gatewayRefundId,omitempty"`
	FailureReason   string               `firestore:"failureReason,omitempty"`
	RequestedBy     string               `firestore:"requestedBy"`
	ProcessedBy     string               `firestore:"processedBy,omitempty"`
	CreatedAt       time.Time            `firestore:"createdAt"`
	UpdatedAt       time.Time            `firestore:"updatedAt"`
	ProcessedAt     *time.Time           `firestore:"processedAt,omitempty"`
}

type refundItemDocument struct {
	ProductID string `firestore:"productId"`
	Size      string `firestore:"size,omitempty"`
	Quantity  int    `firestore:"qty"`
}

func (d refundDocument) created() time.Time { return d.CreatedAt }

func newRefundDocument(refund domain.Refund) refundDocument {
	doc := refundDocument{
		OrderID:         refund.OrderID,
		OrderNumber:     refund.OrderNumber,
		Amount:          refund.Amount,
		Currency:        refund.Currency,
		Reason:          string(refund.Reason),
		Type:            string(refund.Type),
		Status:          string(refund.Status),
		Description:     refund.Description,
		GatewayRefundID: refund.GatewayRefundID,
		FailureReason:   refund.FailureReason,
		RequestedBy:     refund.RequestedBy,
		ProcessedBy:     refund.ProcessedBy,
		CreatedAt:       refund.CreatedAt.UTC(),
		UpdatedAt:       refund.UpdatedAt.UTC(),
		ProcessedAt:     utcPtr(refund.ProcessedAt),
	}
	for _, item := range refund.Items {
		doc.Items = append(doc.Items, refundItemDocument(item))
	}
	return doc
}

func (d refundDocument) toDomain(id string) domain.Refund {
	refund := domain.Refund{
		ID:              id,
		OrderID:         d.OrderID,
		OrderNumber:     d.OrderNumber,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Reason:          domain.RefundReason(d.Reason),
		Type:            domain.RefundType(d.Type),
		Status:          domain.RefundStatus(d.Status),
		Description:     d.Description,
		GatewayRefundID: d.GatewayRefundID,
		FailureReason:   d.FailureReason,
		RequestedBy:     d.RequestedBy,
		ProcessedBy:     d.ProcessedBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ProcessedAt:     d.ProcessedAt,
	}
	for _, item := range d.Items {
		refund.Items = append(refund.Items, domain.RefundItem(item))
	}
	return refund
}

var _ repositories.RefundRepository = (*RefundRepository)(nil)
