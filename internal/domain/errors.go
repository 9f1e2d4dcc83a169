package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConnection       = errors.New("connection error")
	ErrSourceFatal      = errors.New("source failed permanently")
	ErrMapping          = errors.New("unmappable event")
	ErrRejected         = errors.New("trade rejected by risk gate")
	ErrTradeInFlight    = errors.New("trade already in flight")
	ErrExecutionFailed  = errors.New("execution failed")
	ErrUnsupportedVenue = errors.New("unsupported venue")
	ErrInvalidPosition  = errors.New("invalid position parameters")
	ErrSigningFailed    = errors.New("signing failed")
)
