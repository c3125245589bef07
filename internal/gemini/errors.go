package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/care-team/care-bridge/internal/upstream"
)

// Category is the user-facing class of a completion failure.
type Category int

const (
	CategoryMalformedRequest Category = iota + 1
	CategoryInvalidCredential
	CategoryInsufficientPermission
	CategoryRateLimited
	CategoryUpstreamUnavailable
	CategoryUpstreamError
	CategoryTimeout
	CategoryNetworkUnreachable
	CategoryMalformedResponse
	CategoryConfiguration
)

var categoryNames = map[Category]string{
	CategoryMalformedRequest:       "malformed-request",
	CategoryInvalidCredential:      "invalid-credential",
	CategoryInsufficientPermission: "insufficient-permission",
	CategoryRateLimited:            "rate-limited",
	CategoryUpstreamUnavailable:    "upstream-unavailable",
	CategoryUpstreamError:          "upstream-error",
	CategoryTimeout:                "timeout",
	CategoryNetworkUnreachable:     "network-unreachable",
	CategoryMalformedResponse:      "malformed-response",
	CategoryConfiguration:          "configuration",
}

// messages are shown to end users, in the language of the persona.
var messages = map[Category]string{
	CategoryMalformedRequest:       "請求格式錯誤，請調整您的問題後再試",
	CategoryInvalidCredential:      "API 金鑰無效或已過期",
	CategoryInsufficientPermission: "API 權限不足，無法使用此服務",
	CategoryRateLimited:            "API 請求配額已達上限，請稍後再試",
	CategoryUpstreamUnavailable:    "Gemini 服務暫時無法使用，請稍後再試",
	CategoryUpstreamError:          "Gemini API 發生錯誤",
	CategoryTimeout:                "請求超時，請檢查網路連線",
	CategoryNetworkUnreachable:     "無法連線到 Gemini API，請檢查網路連線",
	CategoryMalformedResponse:      "API 回應格式錯誤",
	CategoryConfiguration:          "AI 服務尚未設定完成",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// Message is the user-facing explanation for the category.
func (c Category) Message() string {
	return messages[c]
}

// CompletionError is a classified failure of a completion request.
type CompletionError struct {
	Category Category

	// StatusCode is the HTTP status of the upstream response, if any.
	StatusCode int

	Err error
}

// Error returns the user-facing message; the underlying cause is available
// through Unwrap.
func (e *CompletionError) Error() string {
	if e.Category == CategoryUpstreamError && e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Category.Message(), e.StatusCode)
	}
	return e.Category.Message()
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// Status maps the failure to the HTTP status reported by the API route.
func (e *CompletionError) Status() (int, string) {
	switch e.Category {
	case CategoryMalformedRequest:
		return http.StatusBadRequest, e.Error()
	case CategoryRateLimited:
		return http.StatusTooManyRequests, e.Error()
	case CategoryTimeout:
		return http.StatusGatewayTimeout, e.Error()
	case CategoryConfiguration, CategoryUpstreamUnavailable:
		return http.StatusServiceUnavailable, e.Error()
	default:
		return http.StatusBadGateway, e.Error()
	}
}

// categoryForStatus maps a non-2xx response status to its category.
func categoryForStatus(status int) Category {
	switch status {
	case http.StatusBadRequest:
		return CategoryMalformedRequest
	case http.StatusUnauthorized:
		return CategoryInvalidCredential
	case http.StatusForbidden:
		return CategoryInsufficientPermission
	case http.StatusTooManyRequests:
		return CategoryRateLimited
	case http.StatusInternalServerError:
		return CategoryUpstreamUnavailable
	default:
		return CategoryUpstreamError
	}
}

// classify converts a classified upstream error into a CompletionError.
func classify(err error) *CompletionError {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}

	ue, ok := upstream.As(err)
	if !ok {
		return &CompletionError{Category: CategoryUpstreamError, Err: err}
	}

	switch ue.Kind {
	case upstream.KindConfiguration:
		return &CompletionError{Category: CategoryConfiguration, Err: err}
	case upstream.KindUpstream:
		return &CompletionError{Category: categoryForStatus(ue.StatusCode), StatusCode: ue.StatusCode, Err: err}
	case upstream.KindTransport:
		if ue.Timeout {
			return &CompletionError{Category: CategoryTimeout, Err: err}
		}
		return &CompletionError{Category: CategoryNetworkUnreachable, Err: err}
	case upstream.KindMalformed:
		return &CompletionError{Category: CategoryMalformedResponse, Err: err}
	default:
		return &CompletionError{Category: CategoryUpstreamError, Err: err}
	}
}
