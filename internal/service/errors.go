package service

import (
	"errors"
	"fmt"
	"strings"
)

// Reason is a user-visible denial code
type Reason string

const (
	ReasonEmptyInput          Reason = "EMPTY_INPUT"
	ReasonNotWhitelisted      Reason = "NOT_WHITELISTED"
	ReasonQuotaExhausted      Reason = "QUOTA_EXHAUSTED"
	ReasonCooldownActive      Reason = "COOLDOWN_ACTIVE"
	ReasonPoolExhausted       Reason = "POOL_EXHAUSTED"
	ReasonNotYetAssigned      Reason = "NOT_YET_ASSIGNED"
	ReasonNumberNotInBatch    Reason = "NUMBER_NOT_IN_BATCH"
	ReasonNumberOwnedByOther  Reason = "NUMBER_OWNED_BY_OTHER"
	ReasonAlreadyUploaded     Reason = "ALREADY_UPLOADED"
	ReasonNumberNotInAnyBatch Reason = "NUMBER_NOT_IN_ANY_BATCH"
)

// Sentinels for errors.Is; every DenialError unwraps to one of these.
var (
	ErrEmptyInput          = errors.New("empty input")
	ErrNotWhitelisted      = errors.New("identity is not whitelisted")
	ErrQuotaExhausted      = errors.New("redemption quota exhausted")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrPoolExhausted       = errors.New("no batches left to hand out")
	ErrNotYetAssigned      = errors.New("identity holds no batch")
	ErrNumberNotInBatch    = errors.New("number is not held by any identity")
	ErrNumberOwnedByOther  = errors.New("number is held by another identity")
	ErrAlreadyUploaded     = errors.New("number already uploaded")
	ErrNumberNotInAnyBatch = errors.New("number is not in the pool")
)

var reasonErrors = map[Reason]error{
	ReasonEmptyInput:          ErrEmptyInput,
	ReasonNotWhitelisted:      ErrNotWhitelisted,
	ReasonQuotaExhausted:      ErrQuotaExhausted,
	ReasonCooldownActive:      ErrCooldownActive,
	ReasonPoolExhausted:       ErrPoolExhausted,
	ReasonNotYetAssigned:      ErrNotYetAssigned,
	ReasonNumberNotInBatch:    ErrNumberNotInBatch,
	ReasonNumberOwnedByOther:  ErrNumberOwnedByOther,
	ReasonAlreadyUploaded:     ErrAlreadyUploaded,
	ReasonNumberNotInAnyBatch: ErrNumberNotInAnyBatch,
}

// DenialError is a recoverable, user-visible refusal
type DenialError struct {
	Reason      Reason
	WaitMinutes int    // COOLDOWN_ACTIVE
	Phone       string // first offending number for upload denials
	Owner       string // NUMBER_OWNED_BY_OTHER
}

func (e *DenialError) Error() string {
	var b strings.Builder
	b.WriteString(reasonErrors[e.Reason].Error())
	switch {
	case e.Reason == ReasonCooldownActive:
		fmt.Fprintf(&b, ", retry in %d minutes", e.WaitMinutes)
	case e.Reason == ReasonNumberOwnedByOther:
		fmt.Fprintf(&b, ": %s belongs to %s", e.Phone, e.Owner)
	case e.Phone != "":
		fmt.Fprintf(&b, ": %s", e.Phone)
	}
	return b.String()
}

func (e *DenialError) Unwrap() error {
	return reasonErrors[e.Reason]
}

func deny(reason Reason) *DenialError {
	return &DenialError{Reason: reason}
}

// AsDenial extracts a DenialError from err
func AsDenial(err error) (*DenialError, bool) {
	var d *DenialError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
