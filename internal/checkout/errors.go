package checkout

import "fmt"

// Code classifies a checkout failure. Input codes are caller-correctable and
// surfaced verbatim; data codes point at a store integrity problem; the rest
// cover contention and commit failures.
type Code string

const (
	CodeEmptyCart            Code = "empty_cart"
	CodeInvalidPayment       Code = "invalid_payment"
	CodeInvalidTotal         Code = "invalid_total"
	CodeInsufficientPayment  Code = "insufficient_payment"
	CodeTotalMismatch        Code = "total_mismatch"
	CodeInvalidCartItem      Code = "invalid_cart_item"
	CodeInvalidItemReference Code = "invalid_item_reference"
	CodeProductNotFound      Code = "product_not_found"
	CodeVariantNotFound      Code = "variant_not_found"
	CodeCorruptVariantData   Code = "corrupt_variant_data"
	CodeInsufficientStock    Code = "insufficient_stock"
	CodeAlreadyProcessing    Code = "already_processing"
	CodeTransactionFailed    Code = "transaction_failed"
)

// Error is the typed failure returned by the checkout core. The detail fields
// are filled where they aid diagnosis: Path and VariantID for data errors,
// Available/Requested for stock shortfalls.
type Error struct {
	Code      Code
	Message   string
	Path      string
	VariantID string
	Available int
	Requested int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, which lets callers test
// errors.Is(err, checkout.ErrInsufficientStock) while the concrete error
// still carries its detail fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrEmptyCart            = &Error{Code: CodeEmptyCart, Message: "cart is empty"}
	ErrInvalidPayment       = &Error{Code: CodeInvalidPayment, Message: "invalid amount paid"}
	ErrInvalidTotal         = &Error{Code: CodeInvalidTotal, Message: "invalid total amount"}
	ErrInsufficientPayment  = &Error{Code: CodeInsufficientPayment, Message: "amount paid is less than total"}
	ErrTotalMismatch        = &Error{Code: CodeTotalMismatch, Message: "total amount mismatch"}
	ErrInvalidCartItem      = &Error{Code: CodeInvalidCartItem, Message: "invalid cart item"}
	ErrInvalidItemReference = &Error{Code: CodeInvalidItemReference, Message: "invalid item reference"}
	ErrProductNotFound      = &Error{Code: CodeProductNotFound, Message: "product document not found"}
	ErrVariantNotFound      = &Error{Code: CodeVariantNotFound, Message: "variant not found"}
	ErrCorruptVariantData   = &Error{Code: CodeCorruptVariantData, Message: "corrupt variant data"}
	ErrInsufficientStock    = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrAlreadyProcessing    = &Error{Code: CodeAlreadyProcessing, Message: "checkout already in progress"}
	ErrTransactionFailed    = &Error{Code: CodeTransactionFailed, Message: "transaction failed"}
)
