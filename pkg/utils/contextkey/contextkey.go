package contextkey

import "context"

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID      key = "trace_id"
	RequestID    key = "request_id"
	UserID       key = "user_id"
	SubmissionID key = "submission_id"
)

var requestKeys = []key{TraceID, RequestID, UserID}

// Propagate copies the request ids of src onto dst. Cancellation of src is
// not carried over.
func Propagate(dst, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	for _, k := range requestKeys {
		if v := src.Value(k); v != nil {
			dst = context.WithValue(dst, k, v)
		}
	}
	return dst
}
