package engine

//go:generate stringer -type=ErrorCode

// ErrorCode classifies the outcome of an Execute call the way the C ABI's own
// vengine_status_t would, for callers that bridge across a boundary where a Go error
// value doesn't travel (e.g. the CLI's exit code, or a future C shim).
type ErrorCode int

const (
	SUCCESS ErrorCode = iota
	OUT_OF_MEMORY
	TYPE_NOT_SUPPORTED
	USERFUNC_NOT_SUPPORTED
	ERROR
)

func (c ErrorCode) String() string {
	switch c {
	case SUCCESS:
		return "SUCCESS"
	case OUT_OF_MEMORY:
		return "OUT_OF_MEMORY"
	case TYPE_NOT_SUPPORTED:
		return "TYPE_NOT_SUPPORTED"
	case USERFUNC_NOT_SUPPORTED:
		return "USERFUNC_NOT_SUPPORTED"
	case ERROR:
		return "ERROR"
	default:
		return "ErrorCode(unknown)"
	}
}

// CodeOf classifies err into the ErrorCode categories named in spec §7. A nil err maps
// to SUCCESS; out-of-memory, unsupported-type and unsupported-userfunc errors are
// recognized by their wrapper types; anything else -- toolchain failures and invariant
// violations included -- falls into the generic ERROR bucket.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return SUCCESS
	case AsOutOfMemory(err) != nil:
		return OUT_OF_MEMORY
	case AsTypeNotSupported(err) != nil:
		return TYPE_NOT_SUPPORTED
	case AsUserFuncNotSupported(err) != nil:
		return USERFUNC_NOT_SUPPORTED
	default:
		return ERROR
	}
}
