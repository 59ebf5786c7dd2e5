package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-ID"

var (
	ErrInvalidTopK  = errors.New("topK must be between 0 and 50")
	ErrInvalidRange = errors.New("invalid query parameter")
)

type ErrorResponse struct {
	Error   string `json:"error" description:"Error message"`
	Code    int    `json:"code" description:"HTTP status code"`
	Details string `json:"details,omitempty" description:"Additional error details"`
}

// HandleError writes err as an ErrorResponse with the given status.
func HandleError(resp *restful.Response, err error, status int) {
	_ = resp.WriteHeaderAndEntity(status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Details: err.Error(),
	})
}

// Logger returns a filter that tags each request with an id and logs it
// once the chain has run.
func Logger(logger *zerolog.Logger) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		start := time.Now()
		id := req.HeaderParameter(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		resp.AddHeader(RequestIDHeader, id)

		chain.ProcessFilter(req, resp)

		logger.Info().
			Str("request_id", id).
			Str("method", req.Request.Method).
			Str("path", req.Request.URL.Path).
			Int("status", resp.StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// RecoverPanic turns a handler panic into a 500 response.
func RecoverPanic(logger *zerolog.Logger) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Str("path", req.Request.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("Recovered from panic")
				HandleError(resp, fmt.Errorf("internal error"), http.StatusInternalServerError)
			}
		}()
		chain.ProcessFilter(req, resp)
	}
}
