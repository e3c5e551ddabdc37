package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/account-service/internal/apperror"
)

type okEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

type errEnvelope struct {
	Code      int    `json:"code"`
	ErrorName string `json:"errorName"`
	Message   string `json:"message"`
}

// OK writes the success envelope.
func OK(c echo.Context, result any) error {
	return c.JSON(http.StatusOK, okEnvelope{Code: 0, Message: "success", Result: result})
}

// internal kinds carry infrastructure detail that stays in the log.
var internalKinds = map[apperror.Kind]bool{
	apperror.UnknownError:  true,
	apperror.RedisError:    true,
	apperror.DatabaseError: true,
	apperror.QueueError:    true,
}

// ErrorHandler renders every error as the failure envelope with HTTP 400.
// Unmatched routes report UnknownAPI; framework errors such as 429 keep
// their status.
func ErrorHandler(log logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusBadRequest

		var ae *apperror.Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ae):
		case errors.As(err, &he) && (he.Code == http.StatusNotFound || he.Code == http.StatusMethodNotAllowed):
			ae = apperror.New(apperror.UnknownAPI)
		case errors.As(err, &he) && he.Code < http.StatusInternalServerError:
			status = he.Code
			ae = apperror.Newf(apperror.ValidationError, "%v", he.Message)
			if he.Code == http.StatusTooManyRequests {
				ae = apperror.Newf(apperror.PermissionIsNotAllowed, "%v", he.Message)
			}
		default:
			ae = apperror.From(err)
		}

		body := errEnvelope{Code: ae.Code, ErrorName: string(ae.Kind), Message: ae.Error()}
		entry := log.WithFields(logrus.Fields{
			"error_name": ae.Kind,
			"error_code": ae.Code,
			"path":       c.Path(),
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		})
		switch {
		case internalKinds[ae.Kind]:
			entry.WithError(err).Error("request failed")
			body.Message = ae.Message
		case ae.Err != nil:
			// wrapped causes are driver or server text; the client gets the kind's message
			entry.WithError(ae.Err).Warn("request failed")
			body.Message = ae.Message
		default:
			entry.Debug(ae.Error())
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.WithError(err).Warn("error response not written")
		}
	}
}
