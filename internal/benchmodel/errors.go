package benchmodel

import "errors"

// ErrorCode classifies a benchmark-subsystem error the way the caller is
// expected to react to it (spec §7).
type ErrorCode string

const (
	ErrorCodeInsufficientExecutors ErrorCode = "INSUFFICIENT_EXECUTORS"
	ErrorCodeUnknownBenchmark      ErrorCode = "UNKNOWN_BENCHMARK"
	ErrorCodeStaleState            ErrorCode = "STALE_STATE"
	ErrorCodeTransportFailure      ErrorCode = "TRANSPORT_FAILURE"
	ErrorCodeSearchFatal           ErrorCode = "SEARCH_FATAL"
	ErrorCodeSearchNonFatal        ErrorCode = "SEARCH_NON_FATAL"
	ErrorCodeMasterLost            ErrorCode = "MASTER_LOST"
	ErrorCodeTimeout               ErrorCode = "TIMEOUT"
	ErrorCodeNotMaster             ErrorCode = "NOT_MASTER"
	ErrorCodeInvalidState          ErrorCode = "INVALID_STATE"
)

// Error is the concrete error type every benchmark-subsystem operation
// returns. Code is the stable, user-facing classification; Msg is the
// human-readable detail.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func NewError(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}

func codeOf(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var be *Error
	if !errors.As(err, &be) {
		return "", false
	}
	return be.Code, true
}

func IsInsufficientExecutors(err error) bool { return hasCode(err, ErrorCodeInsufficientExecutors) }
func IsUnknownBenchmark(err error) bool      { return hasCode(err, ErrorCodeUnknownBenchmark) }
func IsStaleState(err error) bool            { return hasCode(err, ErrorCodeStaleState) }
func IsTransportFailure(err error) bool      { return hasCode(err, ErrorCodeTransportFailure) }
func IsMasterLost(err error) bool            { return hasCode(err, ErrorCodeMasterLost) }
func IsTimeout(err error) bool               { return hasCode(err, ErrorCodeTimeout) }
func IsNotMaster(err error) bool             { return hasCode(err, ErrorCodeNotMaster) }
func IsInvalidState(err error) bool          { return hasCode(err, ErrorCodeInvalidState) }

func hasCode(err error, want ErrorCode) bool {
	code, ok := codeOf(err)
	return ok && code == want
}

// ErrNotMaster is returned verbatim by every CoordinatorService public
// method when called on a non-master node (spec invariant).
var ErrNotMaster = NewError(ErrorCodeNotMaster, "this node is not the elected master")

// ErrCanceled wraps a caller-canceled RPC without implying any
// rollback of side effects already committed to the state store.
var ErrCanceled = NewError(ErrorCodeTimeout, "operation canceled")
