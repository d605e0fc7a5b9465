package execution

import (
	"errors"
	"fmt"

	"github.com/titanflow/arena/internal/contracts"
)

// Order validation errors. Callers match with errors.Is.
var (
	ErrOrderValueExceeded    = errors.New("order value exceeds limit")
	ErrPositionValueExceeded = errors.New("projected position value exceeds limit")
	ErrInsufficientCash      = errors.New("insufficient cash")
	ErrInsufficientPosition  = errors.New("insufficient position")
	ErrTradingHalted         = errors.New("trading halted")
)

// Validator enforces pre-trade order limits against a portfolio.
type Validator struct {
	MaxOrderValue    float64
	MaxPositionValue float64
}

// NewValidator creates a validator with the given notional limits. A
// non-positive limit disables that check.
func NewValidator(maxOrderValue, maxPositionValue float64) *Validator {
	return &Validator{
		MaxOrderValue:    maxOrderValue,
		MaxPositionValue: maxPositionValue,
	}
}

// Validate checks an order against the notional caps and, for buys,
// against available cash and the projected position value. Sells may
// not exceed the held lot; the book is long-only.
func (v *Validator) Validate(req contracts.ExecutionRequest, price float64, portfolio *VirtualPortfolio) error {
	if err := contracts.ValidateRequest(req); err != nil {
		return err
	}
	if price <= 0 {
		return fmt.Errorf("%w: %v", contracts.ErrInvalidPrice, price)
	}

	orderValue := float64(req.Qty) * price
	if v.MaxOrderValue > 0 && orderValue > v.MaxOrderValue {
		return fmt.Errorf("%w: %.2f > %.2f", ErrOrderValueExceeded, orderValue, v.MaxOrderValue)
	}

	held := portfolio.PositionQty(req.Symbol)

	if req.Side == contracts.OrderSideSell {
		if req.Qty > held {
			return fmt.Errorf("%w: sell %d, hold %d", ErrInsufficientPosition, req.Qty, held)
		}
		return nil
	}

	projectedValue := float64(held+req.Qty) * price
	if v.MaxPositionValue > 0 && projectedValue > v.MaxPositionValue {
		return fmt.Errorf("%w: %.2f > %.2f", ErrPositionValueExceeded, projectedValue, v.MaxPositionValue)
	}

	if orderValue > portfolio.Cash() {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, orderValue, portfolio.Cash())
	}

	return nil
}
