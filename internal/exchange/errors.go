package exchange

import (
	"errors"
	"fmt"
)

// Reason says why the engine refused a request
type Reason int

const (
	ReasonInvalidPrice Reason = iota + 1
	ReasonInvalidSuit
	ReasonInsufficientFunds
	ReasonInsufficientInventory
	ReasonMarketClosed
	ReasonUnknownOrder
	ReasonSelfTrade
	ReasonUnknownPlayer
	ReasonDisconnected
)

func (r Reason) String() string {
	switch r {
	case ReasonInvalidPrice:
		return "InvalidPrice"
	case ReasonInvalidSuit:
		return "InvalidSuit"
	case ReasonInsufficientFunds:
		return "InsufficientFunds"
	case ReasonInsufficientInventory:
		return "InsufficientInventory"
	case ReasonMarketClosed:
		return "MarketClosed"
	case ReasonUnknownOrder:
		return "UnknownOrder"
	case ReasonSelfTrade:
		return "SelfTrade"
	case ReasonUnknownPlayer:
		return "UnknownPlayer"
	case ReasonDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Category groups reasons into the validation, resource, timing and
// protocol families
type Category int

const (
	ValidationError Category = iota
	ResourceError
	TimingError
	ProtocolError
)

func (c Category) String() string {
	switch c {
	case ValidationError:
		return "validation"
	case ResourceError:
		return "resource"
	case TimingError:
		return "timing"
	default:
		return "protocol"
	}
}

func (r Reason) Category() Category {
	switch r {
	case ReasonInvalidPrice, ReasonInvalidSuit, ReasonSelfTrade:
		return ValidationError
	case ReasonInsufficientFunds, ReasonInsufficientInventory:
		return ResourceError
	case ReasonMarketClosed:
		return TimingError
	default:
		return ProtocolError
	}
}

// RejectError is returned for every refused submit or cancel. Nothing in the
// engine changes when one is returned.
type RejectError struct {
	Reason Reason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Is matches any RejectError with the same reason
func (e *RejectError) Is(target error) bool {
	t, ok := target.(*RejectError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInvalidPrice          = &RejectError{Reason: ReasonInvalidPrice}
	ErrInvalidSuit           = &RejectError{Reason: ReasonInvalidSuit}
	ErrInsufficientFunds     = &RejectError{Reason: ReasonInsufficientFunds}
	ErrInsufficientInventory = &RejectError{Reason: ReasonInsufficientInventory}
	ErrMarketClosed          = &RejectError{Reason: ReasonMarketClosed}
	ErrUnknownOrder          = &RejectError{Reason: ReasonUnknownOrder}
	ErrSelfTrade             = &RejectError{Reason: ReasonSelfTrade}
	ErrUnknownPlayer         = &RejectError{Reason: ReasonUnknownPlayer}
	ErrDisconnected          = &RejectError{Reason: ReasonDisconnected}
)

var (
	// ErrInvariant signals a broken ledger: cards or money were created or
	// destroyed. The round must be aborted.
	ErrInvariant       = errors.New("ledger invariant violated")
	ErrEngineStopped   = errors.New("engine stopped")
	ErrRoundInProgress = errors.New("a round is already trading")
	ErrBadDeal         = errors.New("hands do not match the deck")
)

func reject(r Reason, format string, args ...any) error {
	return &RejectError{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reject reason from err
func ReasonOf(err error) (Reason, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return 0, false
}
