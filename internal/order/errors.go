package order

import "errors"

// Recoverable engine errors. Callers match them with errors.Is and decide
// whether to retry with adjusted parameters.
var (
	ErrInvalidLeverage          = errors.New("invalid leverage")
	ErrInvalidPosition          = errors.New("order position must be LONG or SHORT")
	ErrInsufficientMargin       = errors.New("insufficient margin to buy units")
	ErrMinInvest                = errors.New("error submitting order")
	ErrInvalidFluctuation       = errors.New("invalid value for fluctuation")
	ErrAlreadyClosed            = errors.New("order already closed")
	ErrAlreadyOpen              = errors.New("order already open")
	ErrNotOpen                  = errors.New("order not open")
	ErrInvalidAmount            = errors.New("invalid close amount")
	ErrRequiredParameterMissing = errors.New("some required parameter is missing")
	ErrNoMoney                  = errors.New("not enough balance")
	ErrMaxInvest                = errors.New("max invest exceeded")
	ErrCantChangeLeverage       = errors.New("cant change leverage with open position")
	ErrUnsupportedSystem        = errors.New("unsupported order system")
)
