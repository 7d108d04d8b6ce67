package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/partnermap/pkg/context"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "Internal Server Error"
		meta := map[string]any{}

		var he *echo.HTTPError
		var httperr *httperror.HTTPError
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &httperr):
			code = httperr.Code
			message = httperr.Message
			if httperr.Meta != nil {
				meta = httperr.Meta
			}
		case errors.As(err, &verrs):
			code = http.StatusBadRequest
			message = "request validation failed"
			fields := map[string]string{}
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			meta["fields"] = fields
		case errors.As(err, &he):
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		entry := logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status":    code,
			"method":    context.GetMethod(ctx),
			"route":     context.GetRoute(ctx),
			"remote_ip": context.GetRemoteIP(ctx),
		})
		if code >= http.StatusInternalServerError {
			entry.Error("api is returning an error")
		} else {
			entry.Warn("api is returning an error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
