package orders

import (
	"context"
	"strings"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
)

type CardInput struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"` // MM/YY
}

type ReorderInput struct {
	OrderID           uint
	Actor             Actor
	PaymentMethod     models.PaymentMethod
	Billing           *models.Billing
	Card              *CardInput
	RequestedDelivery *time.Time
}

// Reorder places a direct order with the products and quantities of a
// previous order at today's prices. Card details given here are stored
// encrypted so the payment step can charge them later.
func (s *Service) Reorder(ctx context.Context, in ReorderInput) (*models.Order, error) {
	prev, err := loadOrder(s.db.WithContext(ctx), in.OrderID, true)
	if err != nil {
		return nil, err
	}
	if !in.Actor.owns(prev) {
		return nil, apperr.New(apperr.CodeOwnership, "order does not belong to this restaurant")
	}

	method := in.PaymentMethod
	if method == "" {
		method = prev.PaymentMethod
	}
	billing := prev.Billing
	if in.Billing != nil {
		billing = *in.Billing
	}

	var decorate func(*models.Order)
	if in.Card != nil {
		if method != models.MethodCard {
			return nil, apperr.Validation("card details are only accepted for card payments")
		}
		number := strings.ReplaceAll(in.Card.Number, " ", "")
		if len(number) < 12 || in.Card.Expiry == "" {
			return nil, apperr.Validation("card number and expiry are required")
		}
		if s.cipher == nil {
			return nil, apperr.New(apperr.CodeInternal, "card storage is not configured")
		}
		encNumber, err := s.cipher.Encrypt(number)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "encrypt card number")
		}
		encExpiry, err := s.cipher.Encrypt(in.Card.Expiry)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "encrypt card expiry")
		}
		last4 := number[len(number)-4:]
		decorate = func(o *models.Order) {
			o.CardLast4 = last4
			o.EncryptedCardNumber = encNumber
			o.EncryptedCardExpiry = encExpiry
		}
	}

	items := make([]LineInput, 0, len(prev.OrderItems))
	for _, it := range prev.OrderItems {
		items = append(items, LineInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	return s.createDirect(ctx, DirectInput{
		RestaurantID:      prev.RestaurantID,
		Items:             items,
		PaymentMethod:     method,
		Billing:           billing,
		Notes:             "Reorder of " + prev.OrderNumber,
		RequestedDelivery: in.RequestedDelivery,
	}, decorate)
}

// StoredCard decrypts the card saved on a reordered order, if any.
func (s *Service) StoredCard(o *models.Order) (*CardInput, error) {
	if o.EncryptedCardNumber == "" {
		return nil, nil
	}
	if s.cipher == nil {
		return nil, apperr.New(apperr.CodeInternal, "card storage is not configured")
	}
	number, err := s.cipher.Decrypt(o.EncryptedCardNumber)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "decrypt card number")
	}
	expiry, err := s.cipher.Decrypt(o.EncryptedCardExpiry)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "decrypt card expiry")
	}
	return &CardInput{Number: number, Expiry: expiry}, nil
}
