package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/mempool"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/dex"
)

const requestIDHeader = "X-Request-ID"

type ctxKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// statusRecorder captures the response status for logging. It passes
// Hijack through so websocket upgrades still work behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// requestLogger tags every request with an id and logs its outcome
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Debugw("http_request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(start),
		)
	})
}

func transactionFromBody(body []byte) (*transaction.SignedTransaction, error) {
	return transaction.Deserialize(body)
}

// classify maps an error to an HTTP status and a kind name for clients
func classify(err error) (int, string) {
	if k := exchange.KindOf(err); k != exchange.KindInternal {
		return kindStatus[k], k.String()
	}
	switch {
	case errors.Is(err, transaction.ErrMalformed):
		return http.StatusBadRequest, "Malformed"
	case errors.Is(err, transaction.ErrInvalidSignature):
		return http.StatusUnauthorized, "InvalidSignature"
	case errors.Is(err, transaction.ErrExpired):
		return http.StatusUnauthorized, "Expired"
	case errors.Is(err, transaction.ErrReplay):
		return http.StatusUnauthorized, "Replay"
	case errors.Is(err, mempool.ErrFull), errors.Is(err, dex.ErrStopped):
		return http.StatusServiceUnavailable, "Unavailable"
	case errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound, "UnknownToken"
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusConflict, "InsufficientTokenBalance"
	case errors.Is(err, token.ErrInvalidRecipient):
		return http.StatusBadRequest, "InvalidRecipient"
	case errors.Is(err, exchange.ErrStorage):
		return http.StatusInternalServerError, "Storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	}
	return http.StatusInternalServerError, exchange.KindInternal.String()
}

var kindStatus = map[exchange.Kind]int{
	exchange.KindInvalidAmount:          http.StatusBadRequest,
	exchange.KindInsufficientBalance:    http.StatusConflict,
	exchange.KindExternalTransferFailed: http.StatusBadGateway,
	exchange.KindUnknownOrder:           http.StatusNotFound,
	exchange.KindUnauthorized:           http.StatusForbidden,
	exchange.KindAlreadyFinalized:       http.StatusConflict,
}
