package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds ids accepted from clients.
const maxRequestIDLen = 128

type ctxRequestID struct{}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID{}).(string)
	return id
}

// RequestID tags every request with an id and adds it to the request logger,
// so it belongs after InjectLogger. Checkout attempts forward it to the
// marketplace.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := incomingRequestID(r)
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), ctxRequestID{}, id)
			lg := zctx.From(ctx).With(zap.String("request_id", id))
			next.ServeHTTP(w, r.WithContext(zctx.Base(ctx, lg)))
		})
	}
}

// incomingRequestID returns the client supplied id when it is short printable
// ASCII, and "" otherwise.
func incomingRequestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLen {
		return ""
	}
	for _, c := range []byte(id) {
		if c < ' ' || c > '~' {
			return ""
		}
	}
	return id
}
