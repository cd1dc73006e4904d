package memory

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// LifecycleRepository implements repositories.LifecycleRepository with the
// same effect semantics as the Firestore transaction.
type LifecycleRepository struct{ store *Store }

func (r LifecycleRepository) Apply(_ context.Context, target repositories.LifecycleTarget, build repositories.LifecycleEventBuilder) (repositories.LifecycleResult, error) {
	if build == nil {
		return repositories.LifecycleResult{}, errors.New("memory: event builder is required")
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, refund, err := s.resolve(target)
	if err != nil {
		return repositories.LifecycleResult{}, err
	}
	event, err := build(cloneOrder(order), refund)
	if err != nil {
		return repositories.LifecycleResult{}, err
	}
	if event.Refund == nil && refund != nil {
		event.Refund = refund
	}
	transition, err := domain.ApplyPaymentEvent(cloneOrder(order), event)
	if err != nil {
		return repositories.LifecycleResult{}, err
	}
	result := repositories.LifecycleResult{Transition: transition}
	if !transition.Applied {
		result.Refund = refund
		return result, nil
	}

	next := transition.Order
	for _, effect := range transition.Effects {
		switch effect.Kind {
		case domain.EffectDecrementStock:
			for _, adj := range effect.Stock {
				product, ok := s.products[adj.ProductID]
				if !ok {
					continue
				}
				take := min(product.Stock, adj.Quantity)
				product.Stock -= take
				s.products[adj.ProductID] = product
				if short := adj.Quantity - take; short > 0 {
					backorder := domain.StockAdjustment{ProductID: adj.ProductID, Quantity: short}
					next.Backorders = append(next.Backorders, backorder)
					result.Backorders = append(result.Backorders, backorder)
				}
			}
		case domain.EffectIncrementStock:
			for _, adj := range effect.Stock {
				if product, ok := s.products[adj.ProductID]; ok {
					product.Stock += adj.Quantity
					s.products[adj.ProductID] = product
				}
			}
		case domain.EffectClearCart:
			delete(s.carts, effect.Cart.Key())
		case domain.EffectMarkPayment:
			payment, ok := s.payments[order.PaymentIntentID]
			if !ok {
				continue
			}
			payment.Status = effect.PaymentStatus
			payment.UpdatedAt = next.UpdatedAt
			if effect.Reason != "" {
				payment.FailureReason = effect.Reason
			}
			if effect.ReceiptURL != "" {
				payment.ReceiptURL = effect.ReceiptURL
			}
			s.payments[payment.IntentID] = payment
		case domain.EffectSettleRefund:
			if effect.Refund == nil || refund == nil {
				return repositories.LifecycleResult{}, repositories.NewLifecycleError(repositories.LifecycleErrorInvalidState, "refund effect without refund target", nil)
			}
			settled := cloneRefund(*effect.Refund)
			s.refunds[settled.ID] = settled
			result.Refund = &settled
		}
	}
	s.orders[next.ID] = cloneOrder(next)
	result.Transition.Order = next
	return result, nil
}

func (s *Store) resolve(target repositories.LifecycleTarget) (domain.Order, *domain.Refund, error) {
	switch {
	case strings.TrimSpace(target.IntentID) != "":
		payment, ok := s.payments[strings.TrimSpace(target.IntentID)]
		if !ok {
			return domain.Order{}, nil, notFound("payment %s", target.IntentID)
		}
		order, ok := s.orders[payment.OrderID]
		if !ok {
			return domain.Order{}, nil, notFound("order %s", payment.OrderID)
		}
		return order, nil, nil
	case strings.TrimSpace(target.RefundID) != "":
		refund, ok := s.refunds[strings.TrimSpace(target.RefundID)]
		if !ok {
			return domain.Order{}, nil, notFound("refund %s", target.RefundID)
		}
		order, ok := s.orders[refund.OrderID]
		if !ok {
			return domain.Order{}, nil, notFound("order %s", refund.OrderID)
		}
		copied := cloneRefund(refund)
		return order, &copied, nil
	case strings.TrimSpace(target.OrderNumber) != "":
		order, err := s.orderByNumber(target.OrderNumber)
		return order, nil, err
	}
	return domain.Order{}, nil, errors.New("memory: lifecycle target is empty")
}

var _ repositories.LifecycleRepository = LifecycleRepository{}
