package game

import "errors"

// Closed error sets per operation. The transport layer maps validation
// errors to 422 and phase conflicts to 409; nothing here is retried by the
// engine itself.
var (
	// PlaceBet
	ErrAmountTooLow       = errors.New("amount below minimum bet")
	ErrAmountTooHigh      = errors.New("amount above maximum bet")
	ErrInvalidAutoCashout = errors.New("auto cashout must be greater than 1.0")
	ErrNotAcceptingBets   = errors.New("betting is closed")
	ErrDuplicateBet       = errors.New("player already has a bet this round")

	// Cashout
	ErrNoActiveRound = errors.New("no running round to cash out from")
	ErrNoOpenBet     = errors.New("player has no open bet this round")
)

// IsValidationError reports whether err is a synchronous validation reject.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrAmountTooLow) ||
		errors.Is(err, ErrAmountTooHigh) ||
		errors.Is(err, ErrInvalidAutoCashout)
}

// IsPhaseConflict reports whether err is a client-correctable phase conflict.
func IsPhaseConflict(err error) bool {
	return errors.Is(err, ErrNotAcceptingBets) ||
		errors.Is(err, ErrDuplicateBet) ||
		errors.Is(err, ErrNoActiveRound) ||
		errors.Is(err, ErrNoOpenBet)
}
