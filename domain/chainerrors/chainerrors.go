package chainerrors

import (
	"github.com/pkg/errors"
)

// These constants are used to identify a specific RuleError.
var (
	// ErrBlockNumbersNotSequential indicates a block whose number is not
	// one more than its parent's.
	ErrBlockNumbersNotSequential = newRuleError("ErrBlockNumbersNotSequential")

	// ErrInvalidPreviousBlockID indicates a block that does not extend the
	// current head.
	ErrInvalidPreviousBlockID = newRuleError("ErrInvalidPreviousBlockID")

	// ErrInvalidBlockTime indicates a block timestamp not aligned to the
	// block interval.
	ErrInvalidBlockTime = newRuleError("ErrInvalidBlockTime")

	// ErrTimeInPast indicates a block timestamp at or before its parent's.
	ErrTimeInPast = newRuleError("ErrTimeInPast")

	// ErrTimeInFuture indicates a block timestamp too far ahead of wall
	// clock time. This reason is not terminal: the block is retried once
	// its slot arrives.
	ErrTimeInFuture = newRuleError("ErrTimeInFuture")

	// ErrInvalidBlockDigest indicates a header transaction digest that
	// does not match the block's transaction list.
	ErrInvalidBlockDigest = newRuleError("ErrInvalidBlockDigest")

	// ErrDuplicateTransactionInBlock indicates a transaction included
	// twice in one block.
	ErrDuplicateTransactionInBlock = newRuleError("ErrDuplicateTransactionInBlock")

	// ErrInvalidDelegateSignee indicates a block signed by a delegate
	// other than the one scheduled for its slot.
	ErrInvalidDelegateSignee = newRuleError("ErrInvalidDelegateSignee")

	// ErrInvalidProducerSecret indicates a revealed production secret that
	// does not hash to the producer's prior commitment.
	ErrInvalidProducerSecret = newRuleError("ErrInvalidProducerSecret")

	// ErrFailedCheckpointVerification indicates a block at a checkpointed
	// number whose id does not match the pinned id.
	ErrFailedCheckpointVerification = newRuleError("ErrFailedCheckpointVerification")

	// ErrBlockOlderThanUndoHistory indicates a block whose number is too
	// far behind head to ever be reorganized onto.
	ErrBlockOlderThanUndoHistory = newRuleError("ErrBlockOlderThanUndoHistory")

	// ErrInvalidAncestor indicates a block whose ancestor was marked
	// invalid; the reason carries the ancestor's.
	ErrInvalidAncestor = newRuleError("ErrInvalidAncestor")

	// ErrUnknownBlock indicates a request for a block id with no stored
	// body.
	ErrUnknownBlock = newRuleError("ErrUnknownBlock")

	// ErrUnknownTransaction indicates a request for a transaction id that
	// is neither confirmed nor pending.
	ErrUnknownTransaction = newRuleError("ErrUnknownTransaction")

	// ErrDuplicateBlock indicates a block whose body was already stored.
	ErrDuplicateBlock = newRuleError("ErrDuplicateBlock")

	// ErrDuplicateTransaction indicates a transaction whose uniqueness
	// fingerprint was already recorded.
	ErrDuplicateTransaction = newRuleError("ErrDuplicateTransaction")

	// ErrTransactionExpired indicates a transaction whose expiration is at
	// or before chain time.
	ErrTransactionExpired = newRuleError("ErrTransactionExpired")

	// ErrInsufficientRelayFee indicates a pending transaction paying less
	// than the effective relay fee.
	ErrInsufficientRelayFee = newRuleError("ErrInsufficientRelayFee")

	// ErrNewDatabaseVersion indicates an on-disk index written by a newer
	// version of the software.
	ErrNewDatabaseVersion = newRuleError("ErrNewDatabaseVersion")

	// ErrInsufficientFunds indicates an operation moving more than a
	// balance holds.
	ErrInsufficientFunds = newRuleError("ErrInsufficientFunds")

	// ErrSupplyOverflow indicates an operation that would push an asset's
	// supply past its maximum.
	ErrSupplyOverflow = newRuleError("ErrSupplyOverflow")
)

// RuleError identifies a chain rule violation. It is used to indicate that
// processing of a block or transaction failed due to one of the validation
// rules. Rule errors become the invalid reason pinned to a fork node.
type RuleError struct {
	message string
	inner   error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.inner != nil {
		return e.message + ": " + e.inner.Error()
	}
	return e.message
}

// Unwrap satisfies the errors.Unwrap interface
func (e RuleError) Unwrap() error {
	return e.inner
}

// Is matches rule errors by their tag, so a reconstructed or wrapped rule
// error compares equal to its sentinel under errors.Is.
func (e RuleError) Is(target error) bool {
	other, ok := target.(RuleError)
	return ok && e.message == other.message
}

// Cause satisfies the github.com/pkg/errors.Cause interface
func (e RuleError) Cause() error {
	return e.inner
}

// Message returns the tag identifying the rule that was violated.
func (e RuleError) Message() string {
	return e.message
}

func newRuleError(message string) RuleError {
	return RuleError{message: message, inner: nil}
}

// IsRuleError reports whether any error in err's chain is a RuleError.
func IsRuleError(err error) bool {
	var ruleError RuleError
	return errors.As(err, &ruleError)
}

// Reason returns the tag of the rule violation in err's chain, or err's
// message when no RuleError is present. It is what gets pinned to fork
// nodes as their invalid reason.
func Reason(err error) string {
	var ruleError RuleError
	if errors.As(err, &ruleError) {
		return ruleError.message
	}
	return err.Error()
}

// RuleErrorFromReason reconstructs a rule error from a reason tag that was
// pinned to a fork node. The result matches the sentinel carrying the same
// tag under errors.Is.
func RuleErrorFromReason(reason string) error {
	return errors.WithStack(RuleError{message: reason})
}

// NewInvalidAncestor wraps the ancestor's reason so descendants inherit it.
func NewInvalidAncestor(ancestorReason string) error {
	return errors.WithStack(RuleError{
		message: "ErrInvalidAncestor",
		inner:   errors.New(ancestorReason),
	})
}
