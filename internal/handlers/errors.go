package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/agents"
	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/media"
	"github.com/memohai/wadesk/internal/media/staging"
	"github.com/memohai/wadesk/internal/message"
	"github.com/memohai/wadesk/internal/outbound"
	"github.com/memohai/wadesk/internal/whatsapp"
)

// apiError is the JSON body for mapped domain failures.
type apiError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// sendFailure writes the response for a failed send, upload or lookup.
// Provider failures carry a stable code; everything else becomes an
// echo.HTTPError.
func sendFailure(c echo.Context, err error) error {
	var sendErr *whatsapp.SendError
	switch {
	case errors.Is(err, whatsapp.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, apiError{Code: "not_configured", Message: err.Error()})
	case errors.As(err, &sendErr) && errors.Is(err, whatsapp.ErrTransientSend):
		body := apiError{Code: "transient_send_failure", Message: err.Error()}
		if sendErr.RetryAfter > 0 {
			secs := int(math.Ceil(sendErr.RetryAfter.Seconds()))
			body.RetryAfter = secs
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
		return c.JSON(http.StatusServiceUnavailable, body)
	case errors.Is(err, whatsapp.ErrTransientSend):
		return c.JSON(http.StatusServiceUnavailable, apiError{Code: "transient_send_failure", Message: err.Error()})
	case errors.Is(err, whatsapp.ErrProviderAuth):
		return c.JSON(http.StatusBadGateway, apiError{Code: "provider_auth_failure", Message: err.Error()})
	case errors.Is(err, whatsapp.ErrMissingProviderID):
		return c.JSON(http.StatusBadGateway, apiError{Code: "missing_provider_id", Message: err.Error()})
	case errors.Is(err, whatsapp.ErrPermanentSend):
		return c.JSON(http.StatusUnprocessableEntity, apiError{Code: "permanent_send_failure", Message: err.Error()})
	}
	return httpError(err)
}

// httpError maps domain sentinels to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, whatsapp.ErrInvalidAddress),
		errors.Is(err, outbound.ErrInvalidInput),
		errors.Is(err, conversation.ErrInvalidID),
		errors.Is(err, conversation.ErrAgentRequired),
		errors.Is(err, agents.ErrInvalidRequest),
		errors.Is(err, media.ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrFileTooLarge), errors.Is(err, staging.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, message.ErrNotFound),
		errors.Is(err, agents.ErrAgentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, agents.ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, agents.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
