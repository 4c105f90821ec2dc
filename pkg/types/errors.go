package types

import "errors"

var (
	// ErrMarketNotFound is returned when no state exists for a market.
	ErrMarketNotFound = errors.New("market not found")

	// ErrInvalidWindow is returned for an unknown history window.
	ErrInvalidWindow = errors.New("invalid history window")

	// ErrInvalidSide is returned when an outcome side cannot be resolved.
	ErrInvalidSide = errors.New("invalid side")

	// ErrNegativeAmount is returned for stake amounts below zero.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrMarketNotWatched is returned for local events on a market nobody observes.
	ErrMarketNotWatched = errors.New("market not watched")

	// ErrMarketClosed is returned for local events after the bidding window.
	ErrMarketClosed = errors.New("market closed")
)
