package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind groups failures by what the caller can do about them.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation marks malformed input: non-positive amounts, unknown lock
	// periods, out-of-range grades.
	KindValidation
	// KindState marks operations attempted in the wrong lifecycle state.
	KindState
	// KindResource marks shortfalls: liquidity, shares, collateral coverage or
	// an unavailable price.
	KindResource
	// KindArithmetic marks fixed-point range violations.
	KindArithmetic
	// KindAuthorization marks callers lacking the required role.
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindArithmetic:
		return "arithmetic"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error is a coded protocol failure. Sentinels are compared by identity so
// wrapped errors still match with errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrInvalidAmount     = newError(KindValidation, "InvalidAmount", "amount must be positive")
	ErrUnknownLockPeriod = newError(KindValidation, "UnknownLockPeriod", "lock period not recognised")
	ErrInvalidValuation  = newError(KindValidation, "InvalidValuation", "valuation must be positive")
	ErrInvalidGrade      = newError(KindValidation, "InvalidGrade", "quality grade must be between 1 and 100")
	ErrInvalidParams     = newError(KindValidation, "InvalidParams", "parameter set rejected")
	ErrUnsupportedAsset  = newError(KindValidation, "UnsupportedAsset", "asset not accepted by vault")
	ErrInvalidProposal   = newError(KindValidation, "InvalidProposal", "proposal payload rejected")
	ErrInvalidRecipient  = newError(KindValidation, "InvalidRecipient", "recipient must be a different non-zero account")

	ErrStillLocked         = newError(KindState, "StillLocked", "position lock has not expired")
	ErrAlreadyLocked       = newError(KindState, "AlreadyLocked", "collateral already pledged")
	ErrAlreadyVoted        = newError(KindState, "AlreadyVoted", "ballot already recorded")
	ErrProposalExpired     = newError(KindState, "ProposalExpired", "proposal voting window elapsed")
	ErrProposalNotOpen     = newError(KindState, "ProposalNotOpen", "proposal is not open for voting")
	ErrProposalNotPassed   = newError(KindState, "ProposalNotPassed", "proposal has not passed")
	ErrProposalNotFound    = newError(KindState, "ProposalNotFound", "proposal not found")
	ErrPositionNotFound    = newError(KindState, "PositionNotFound", "position not found")
	ErrAlreadyWithdrawn    = newError(KindState, "AlreadyWithdrawn", "position already withdrawn")
	ErrCollateralNotFound  = newError(KindState, "CollateralNotFound", "collateral record not found")
	ErrInvalidCollateral   = newError(KindState, "InvalidCollateralState", "collateral not in required state")
	ErrLoanNotFound        = newError(KindState, "LoanNotFound", "loan not found")
	ErrInvalidLoanState    = newError(KindState, "InvalidLoanState", "loan not in required state")
	ErrModulePaused        = newError(KindState, "ModulePaused", "module paused")
	ErrNoSharesOutstanding = newError(KindState, "NoSharesOutstanding", "no shares outstanding")
	ErrOrderNotFound       = newError(KindState, "OrderNotFound", "rebalance order not found")
	ErrOrderSettled        = newError(KindState, "OrderSettled", "rebalance order already settled")
	ErrReportNotFound      = newError(KindState, "ReportNotFound", "yield report not found")

	ErrInsufficientShares    = newError(KindResource, "InsufficientShares", "share balance too low")
	ErrInsufficientLiquidity = newError(KindResource, "InsufficientLiquidity", "vault liquidity too low")
	ErrInsufficientBalance   = newError(KindResource, "InsufficientBalance", "account balance too low")
	ErrUnderCollateralized   = newError(KindResource, "UnderCollateralized", "collateral value below required ratio")
	ErrOracleUnavailable     = newError(KindResource, "OracleUnavailable", "price quote missing or stale")
	ErrInsufficientStake     = newError(KindResource, "InsufficientStake", "proposer holdings below minimum")

	ErrArithmeticOverflow = newError(KindArithmetic, "ArithmeticOverflow", "fixed-point result out of range")

	ErrUnauthorized = newError(KindAuthorization, "Unauthorized", "caller lacks required role")
)

// KindOf reports the kind of the first coded error in err's chain.
func KindOf(err error) Kind {
	var coded *Error
	if stderrors.As(err, &coded) && coded != nil {
		return coded.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of the first coded error in err's chain.
func CodeOf(err error) string {
	var coded *Error
	if stderrors.As(err, &coded) && coded != nil {
		return coded.Code
	}
	return ""
}

// Wrap attaches context to a sentinel while keeping errors.Is matching.
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
