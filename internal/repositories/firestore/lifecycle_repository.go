package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// LifecycleRepository commits order transitions together with their stock,
// cart, payment and refund effects in a single Firestore transaction.
type LifecycleRepository struct {
	provider *pfirestore.Provider
}

// NewLifecycleRepository constructs the transactional lifecycle writer.
func NewLifecycleRepository(provider *pfirestore.Provider) (*LifecycleRepository, error) {
	if provider == nil {
		return nil, errors.New("lifecycle repository requires firestore provider")
	}
	return &LifecycleRepository{provider: provider}, nil
}

// lifecycleState is everything read before the first write of a transaction.
type lifecycleState struct {
	orderRef   *firestore.DocumentRef
	order      domain.Order
	refundRef  *firestore.DocumentRef
	refund     *domain.Refund
	paymentRef *firestore.DocumentRef
	payment    *paymentDocument
}

// Apply resolves the target order, builds the event from the freshly read
// state and persists the resulting transition. Retries re-run build, so it must be pure.
func (r *LifecycleRepository) Apply(ctx context.Context, target repositories.LifecycleTarget, build repositories.LifecycleEventBuilder) (repositories.LifecycleResult, error) {
	if build == nil {
		return repositories.LifecycleResult{}, errors.New("lifecycle repository: event builder is required")
	}

	var result repositories.LifecycleResult
	err := r.provider.RunTransaction(ctx, "lifecycle.apply", func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.LifecycleResult{}

		state, err := r.resolve(ctx, tx, target)
		if err != nil {
			return err
		}
		event, err := build(state.order, state.refund)
		if err != nil {
			return err
		}
		if event.Refund == nil && state.refund != nil {
			event.Refund = state.refund
		}

		transition, err := domain.ApplyPaymentEvent(state.order, event)
		if err != nil {
			return err
		}
		result.Transition = transition
		if !transition.Applied {
			result.Refund = state.refund
			return nil
		}

		var stock []domain.StockAdjustment
		needsPayment := false
		for _, effect := range transition.Effects {
			switch effect.Kind {
			case domain.EffectDecrementStock, domain.EffectIncrementStock:
				stock = append(stock, effect.Stock...)
			case domain.EffectMarkPayment:
				needsPayment = true
			}
		}
		ledger, err := loadStockLedger(ctx, r.provider, tx, stock)
		if err != nil {
			return err
		}
		if needsPayment && state.paymentRef == nil && state.order.PaymentIntentID != "" {
			if err := r.loadPayment(ctx, tx, state, state.order.PaymentIntentID); err != nil {
				return err
			}
		}

		next := transition.Order
		at := next.UpdatedAt
		for _, effect := range transition.Effects {
			switch effect.Kind {
			case domain.EffectDecrementStock:
				if backorders := ledger.decrement(effect.Stock); len(backorders) > 0 {
					next.Backorders = append(next.Backorders, backorders...)
					result.Backorders = append(result.Backorders, backorders...)
				}
			case domain.EffectIncrementStock:
				ledger.increment(effect.Stock)
			case domain.EffectClearCart:
				cartRef, err := r.provider.Doc(ctx, cartCollection, effect.Cart.Key())
				if err != nil {
					return err
				}
				if err := tx.Delete(cartRef); err != nil {
					return err
				}
			case domain.EffectMarkPayment:
				if state.payment == nil {
					continue
				}
				updates := []firestore.Update{
					{Path: "status", Value: string(effect.PaymentStatus)},
					{Path: "updatedAt", Value: at},
				}
				if effect.Reason != "" {
					updates = append(updates, firestore.Update{Path: "failureReason", Value: effect.Reason})
				}
				if effect.ReceiptURL != "" {
					updates = append(updates, firestore.Update{Path: "receiptUrl", Value: effect.ReceiptURL})
				}
				if err := tx.Update(state.paymentRef, updates); err != nil {
					return err
				}
			case domain.EffectSettleRefund:
				if effect.Refund == nil || state.refundRef == nil {
					return repositories.NewLifecycleError(repositories.LifecycleErrorInvalidState, "refund effect without refund target", nil)
				}
				if err := tx.Set(state.refundRef, newRefundDocument(*effect.Refund)); err != nil {
					return err
				}
				settled := *effect.Refund
				result.Refund = &settled
			}
		}
		if err := ledger.write(tx, at); err != nil {
			return err
		}
		if err := tx.Set(state.orderRef, newOrderDocument(next)); err != nil {
			return err
		}
		result.Transition.Order = next
		return nil
	}, pfirestore.WithTxAttempts(stockTxAttempts))
	if err != nil {
		return repositories.LifecycleResult{}, err
	}
	return result, nil
}

func (r *LifecycleRepository) resolve(ctx context.Context, tx *firestore.Transaction, target repositories.LifecycleTarget) (*lifecycleState, error) {
	state := &lifecycleState{}
	var err error
	switch {
	case strings.TrimSpace(target.IntentID) != "":
		if err := r.loadPayment(ctx, tx, state, strings.TrimSpace(target.IntentID)); err != nil {
			return nil, err
		}
		if state.payment == nil {
			return nil, pfirestore.NotFound("lifecycle.resolve", "payment %s not found", target.IntentID)
		}
		state.orderRef, state.order, err = txOrderByID(ctx, r.provider, tx, state.payment.OrderID)
	case strings.TrimSpace(target.RefundID) != "":
		state.refundRef, err = r.provider.Doc(ctx, refundCollection, strings.TrimSpace(target.RefundID))
		if err != nil {
			return nil, err
		}
		doc, err := pfirestore.TxGet[refundDocument](tx, state.refundRef, "lifecycle.refund")
		if err != nil {
			return nil, err
		}
		refund := doc.toDomain(state.refundRef.ID)
		state.refund = &refund
		state.orderRef, state.order, err = txOrderByID(ctx, r.provider, tx, doc.OrderID)
		if err != nil {
			return nil, err
		}
	case strings.TrimSpace(target.OrderNumber) != "":
		state.orderRef, state.order, err = txOrderByNumber(ctx, r.provider, tx, target.OrderNumber)
	default:
		return nil, errors.New("lifecycle repository: target is empty")
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (r *LifecycleRepository) loadPayment(ctx context.Context, tx *firestore.Transaction, state *lifecycleState, intentID string) error {
	ref, err := r.provider.Doc(ctx, paymentCollection, intentID)
	if err != nil {
		return err
	}
	doc, err := pfirestore.TxGet[paymentDocument](tx, ref, "lifecycle.payment")
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil
		}
		return err
	}
	state.paymentRef = ref
	state.payment = &doc
	return nil
}

var _ repositories.LifecycleRepository = (*LifecycleRepository)(nil)
