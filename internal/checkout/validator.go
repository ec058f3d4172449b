package checkout

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"grocerstock/backend/internal/domain"
)

// TaxRate is the fixed sales tax applied to every checkout.
const TaxRate = 0.12

// totalEpsilon bounds the allowed drift between the client-computed total and
// the authoritative recomputation. Anything larger signals a desync, not
// float noise.
const totalEpsilon = 0.001

// ValidateCart checks the cart and payment and produces the authoritative
// totals. It never trusts the caller-supplied total except to cross-check it.
// Pure: no I/O, deterministic for identical inputs.
func ValidateCart(cart []domain.CartItem, claimedTotal float64, amountPaid string) (domain.Totals, error) {
	if len(cart) == 0 {
		return domain.Totals{}, ErrEmptyCart
	}

	paid, err := strconv.ParseFloat(strings.TrimSpace(amountPaid), 64)
	if err != nil || math.IsNaN(paid) || math.IsInf(paid, 0) || paid < 0 {
		return domain.Totals{}, &Error{
			Code:    CodeInvalidPayment,
			Message: fmt.Sprintf("invalid amount paid %q", amountPaid),
		}
	}

	if math.IsNaN(claimedTotal) || math.IsInf(claimedTotal, 0) || claimedTotal < 0 {
		return domain.Totals{}, ErrInvalidTotal
	}

	if paid < claimedTotal {
		return domain.Totals{}, &Error{
			Code:    CodeInsufficientPayment,
			Message: fmt.Sprintf("amount paid (%.2f) is less than total (%.2f)", paid, claimedTotal),
		}
	}

	subTotal := 0.0
	for _, item := range cart {
		if item.Qty < 1 {
			return domain.Totals{}, &Error{
				Code:      CodeInvalidCartItem,
				Message:   fmt.Sprintf("invalid quantity %d for %q (%s)", item.Qty, item.Name, item.VariantID),
				VariantID: item.VariantID,
			}
		}
		if item.Price < 0 || math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
			return domain.Totals{}, &Error{
				Code:      CodeInvalidCartItem,
				Message:   fmt.Sprintf("invalid price %v for %q (%s)", item.Price, item.Name, item.VariantID),
				VariantID: item.VariantID,
			}
		}
		subTotal += item.Price * float64(item.Qty)
	}
	tax := subTotal * TaxRate
	total := subTotal + tax

	if math.Abs(total-claimedTotal) > totalEpsilon {
		return domain.Totals{}, &Error{
			Code:    CodeTotalMismatch,
			Message: fmt.Sprintf("caller total %.4f does not match computed total %.4f", claimedTotal, total),
		}
	}

	return domain.Totals{
		SubTotal: subTotal,
		Tax:      tax,
		Total:    total,
		Change:   paid - total,
	}, nil
}
