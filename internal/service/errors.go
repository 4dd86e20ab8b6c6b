package service

import "errors"

// Caller-facing errors. Handlers map these to structured API codes; anything
// else is a store or upstream failure and surfaces as an internal error.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPollNotFound        = errors.New("poll not found")
	ErrVoteNotFound        = errors.New("active vote not found")
	ErrPollSettled         = errors.New("poll already settled")
	ErrInvalidSide         = errors.New("side must be long or short")
	ErrInvalidStake        = errors.New("stake must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
