package checkout

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"grocerstock/backend/internal/domain"
)

func cartOf(price float64, qty int) []domain.CartItem {
	return []domain.CartItem{{
		Name:          "Cola 330ml",
		Qty:           qty,
		Price:         price,
		VariantID:     "soda-cola-330",
		BaseProductID: "soda-cola",
		Category:      "beverages",
	}}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestValidateCartComputesTotals(t *testing.T) {
	cart := cartOf(100, 1)
	claimed := 100 * (1 + TaxRate)

	totals, err := ValidateCart(cart, claimed, "112")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(totals.SubTotal, 100) {
		t.Fatalf("subtotal = %v, want 100", totals.SubTotal)
	}
	if !almostEqual(totals.Tax, 12) {
		t.Fatalf("tax = %v, want 12", totals.Tax)
	}
	if !almostEqual(totals.Total, 112) {
		t.Fatalf("total = %v, want 112", totals.Total)
	}
	if !almostEqual(totals.Change, 0) {
		t.Fatalf("change = %v, want 0", totals.Change)
	}
}

func TestValidateCartChange(t *testing.T) {
	cart := cartOf(50, 2)
	claimed := 100 * (1 + TaxRate)

	totals, err := ValidateCart(cart, claimed, "150")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(totals.Change, 150-112) {
		t.Fatalf("change = %v, want 38", totals.Change)
	}
}

func TestValidateCartIsDeterministic(t *testing.T) {
	cart := cartOf(25, 3)
	claimed := 75 * (1 + TaxRate)

	first, err := ValidateCart(cart, claimed, "100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ValidateCart(cart, claimed, "100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("repeated validation diverged: %+v vs %+v", first, second)
	}
}

func TestValidateCartEmptyCart(t *testing.T) {
	_, err := ValidateCart(nil, 0, "10")
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("err = %v, want empty cart", err)
	}
}

func TestValidateCartInvalidPayment(t *testing.T) {
	for _, paid := range []string{"", "abc", "-5", "NaN", "+Inf"} {
		_, err := ValidateCart(cartOf(10, 1), 11.2, paid)
		if !errors.Is(err, ErrInvalidPayment) {
			t.Fatalf("paid %q: err = %v, want invalid payment", paid, err)
		}
	}
}

func TestValidateCartInvalidTotal(t *testing.T) {
	for _, claimed := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := ValidateCart(cartOf(10, 1), claimed, "1000000")
		if !errors.Is(err, ErrInvalidTotal) {
			t.Fatalf("claimed %v: err = %v, want invalid total", claimed, err)
		}
	}
}

func TestValidateCartRejectsNonPositiveQuantity(t *testing.T) {
	// Item checks run before the total cross-check, so the claimed total
	// never gets a say here.
	for _, qty := range []int{0, -1, -5} {
		_, err := ValidateCart(cartOf(10, qty), 0, "1000000")
		if !errors.Is(err, ErrInvalidCartItem) {
			t.Fatalf("qty %d: err = %v, want invalid cart item", qty, err)
		}
	}
}

func TestValidateCartRejectsMixedSignCart(t *testing.T) {
	// A negative line hidden behind a positive net total must still fail.
	cart := []domain.CartItem{
		{Name: "Cola 330ml", Qty: -2, Price: 25, VariantID: "soda-cola-330", BaseProductID: "soda-cola", Category: "beverages"},
		{Name: "Cola 1L", Qty: 3, Price: 65, VariantID: "soda-cola-1000", BaseProductID: "soda-cola", Category: "beverages"},
	}
	claimed := (-2*25 + 3*65) * (1 + TaxRate)

	_, err := ValidateCart(cart, claimed, "1000000")
	if !errors.Is(err, ErrInvalidCartItem) {
		t.Fatalf("err = %v, want invalid cart item", err)
	}
}

func TestValidateCartRejectsInvalidPrice(t *testing.T) {
	for _, price := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := ValidateCart(cartOf(price, 1), 11.2, "1000000")
		if !errors.Is(err, ErrInvalidCartItem) {
			t.Fatalf("price %v: err = %v, want invalid cart item", price, err)
		}
	}
}

func TestValidateCartInsufficientPayment(t *testing.T) {
	_, err := ValidateCart(cartOf(100, 1), 112, "100")
	if !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("err = %v, want insufficient payment", err)
	}
}

func TestValidateCartTotalMismatch(t *testing.T) {
	// Claimed total is off by far more than float drift.
	_, err := ValidateCart(cartOf(100, 1), 100, "200")
	if !errors.Is(err, ErrTotalMismatch) {
		t.Fatalf("err = %v, want total mismatch", err)
	}
}

func TestValidateCartToleratesFloatDrift(t *testing.T) {
	// 3 * 33.33 accumulates float error well inside the epsilon.
	cart := cartOf(33.33, 3)
	claimed := 99.99 * (1 + TaxRate)

	if _, err := ValidateCart(cart, claimed, "120"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewReceiptNumberFormat(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	receipt := NewReceiptNumber(at)

	parts := strings.Split(receipt, "-")
	if len(parts) != 3 {
		t.Fatalf("receipt %q does not have three segments", receipt)
	}
	if parts[0] != "GS" {
		t.Fatalf("receipt prefix = %q, want GS", parts[0])
	}
	if parts[1] != "20260314" {
		t.Fatalf("receipt date = %q, want 20260314", parts[1])
	}
	if len(parts[2]) != 4 {
		t.Fatalf("receipt suffix %q is not 4 digits", parts[2])
	}
}
