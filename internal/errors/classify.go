package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"google.golang.org/api/googleapi"
)

// HTTPError is a non-2xx response from a plain REST endpoint
type HTTPError struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
	}
	if e.Status != "" {
		return "http " + e.Status
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// NewHTTPError reads (a bounded amount of) the body of resp into an HTTPError
func NewHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       strings.TrimSpace(string(body)),
	}
}

// classifyStatus maps an HTTP status to a stable error code
func classifyStatus(status int) (code string, retryable bool) {
	switch {
	case status == 400 || status == 409:
		return utils.ErrCodeInvalidArgument, false
	case status == 401:
		return utils.ErrCodeAuthExpired, false
	case status == 403:
		return utils.ErrCodePermissionDenied, false
	case status == 404 || status == 410:
		return utils.ErrCodeFileNotFound, false
	case status == 408:
		return utils.ErrCodeTimeout, true
	case status == 429:
		return utils.ErrCodeRateLimited, true
	case status >= 500:
		return utils.ErrCodeNetworkError, true
	}
	return utils.ErrCodeUnknown, false
}

// Classify converts a backend error into a *utils.AppError carrying a stable
// code. Errors that are already classified and context cancellation pass
// through unchanged.
func Classify(service string, err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	if err == nil {
		return nil
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	traceID := ""
	requestType := ""
	if reqCtx != nil {
		traceID = reqCtx.TraceID
		requestType = string(reqCtx.RequestType)
	}

	var appErr *utils.AppError
	if goerrors.As(err, &appErr) {
		return err
	}
	if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gErr *googleapi.Error
	if goerrors.As(err, &gErr) {
		return classifyGoogleAPIError(service, gErr, traceID, requestType, logger)
	}

	var hErr *HTTPError
	if goerrors.As(err, &hErr) {
		code, retryable := classifyStatus(hErr.StatusCode)
		// Canvas throttles with 403 and a plain-text body
		if hErr.StatusCode == 403 && strings.Contains(strings.ToLower(hErr.Body), "rate limit exceeded") {
			code, retryable = utils.ErrCodeRateLimited, true
		}
		if hErr.StatusCode == 401 {
			switch {
			case strings.Contains(hErr.Body, "user authorization required"):
				code = utils.ErrCodeAuthRequired
			case strings.Contains(hErr.Body, "not authorized to perform that action"):
				// valid token, resource hidden from this user
				code = utils.ErrCodePermissionDenied
			}
		}
		return finish(service, err, code, retryable, hErr.StatusCode, "", traceID, requestType, logger)
	}

	var sErr smithy.APIError
	if goerrors.As(err, &sErr) {
		status := 0
		var respErr *smithyhttp.ResponseError
		if goerrors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
		}
		code, retryable := classifyS3Code(sErr.ErrorCode(), status)
		return finish(service, err, code, retryable, status, sErr.ErrorCode(), traceID, requestType, logger)
	}

	var respErr *smithyhttp.ResponseError
	if goerrors.As(err, &respErr) {
		code, retryable := classifyStatus(respErr.HTTPStatusCode())
		return finish(service, err, code, retryable, respErr.HTTPStatusCode(), "", traceID, requestType, logger)
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) && netErr.Timeout() {
		return finish(service, err, utils.ErrCodeTimeout, true, 0, "", traceID, requestType, logger)
	}

	logger.Error("Non-API error",
		logging.F("error", err.Error()),
		logging.F("traceId", traceID),
	)
	return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeNetworkError, err.Error()).
		WithRetryable(true).
		WithContext("traceId", traceID).
		WithContext("service", service).
		Build(), err)
}

func classifyS3Code(code string, status int) (string, bool) {
	switch code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return utils.ErrCodeFileNotFound, false
	case "ExpiredToken", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidToken":
		return utils.ErrCodeAuthExpired, false
	case "AccessDenied", "AllAccessDisabled":
		return utils.ErrCodePermissionDenied, false
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
		return utils.ErrCodeRateLimited, true
	case "RequestTimeout":
		return utils.ErrCodeTimeout, true
	case "InternalError", "ServiceUnavailable":
		return utils.ErrCodeNetworkError, true
	}
	if status != 0 {
		return classifyStatus(status)
	}
	return utils.ErrCodeUnknown, false
}

func classifyGoogleAPIError(service string, apiErr *googleapi.Error, traceID, requestType string, logger logging.Logger) error {
	code, retryable := classifyStatus(apiErr.Code)
	reason := ""
	if len(apiErr.Errors) > 0 {
		reason = apiErr.Errors[0].Reason
	}
	if apiErr.Code == 403 {
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "userRateLimitExceeded", "rateLimitExceeded":
				code, retryable = utils.ErrCodeRateLimited, true
			case "dailyLimitExceeded":
				code = utils.ErrCodeRateLimited
			}
		}
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error()
	}
	return finish(service, &messageError{msg: msg, cause: apiErr}, code, retryable, apiErr.Code, reason, traceID, requestType, logger)
}

type messageError struct {
	msg   string
	cause error
}

func (e *messageError) Error() string { return e.msg }
func (e *messageError) Unwrap() error { return e.cause }

func finish(service string, err error, code string, retryable bool, status int, reason, traceID, requestType string, logger logging.Logger) error {
	logger.Debug("API error classified",
		logging.F("httpStatus", status),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("message", err.Error()),
		logging.F("traceId", traceID),
		logging.F("service", service),
	)

	builder := utils.NewCLIError(code, err.Error()).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithContext("traceId", traceID).
		WithContext("service", service)
	if requestType != "" {
		builder.WithContext("requestType", requestType)
	}
	if reason != "" {
		builder.WithReason(reason)
	}

	switch code {
	case utils.ErrCodeAuthExpired, utils.ErrCodeAuthRequired:
		builder.WithContext("suggestedAction", "run 'canvassync auth login' to store a new token")
	case utils.ErrCodeRateLimited:
		builder.WithContext("suggestedAction", "rate limit exceeded, retrying with backoff")
	case utils.ErrCodePermissionDenied:
		builder.WithContext("suggestedAction", "the item is not accessible with the current credential")
	}
	if status >= 500 && status <= 504 {
		builder.WithContext("serverError", true)
	}

	var cause error = err
	if me, ok := err.(*messageError); ok {
		cause = me.cause
	}
	return utils.WrapAppError(builder.Build(), cause)
}
