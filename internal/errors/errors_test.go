package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("bad", nil), http.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("no", nil), http.StatusUnauthorized},
		{"conflict", NewConflictError("busy", nil), http.StatusConflict},
		{"not found", NewNotFoundError("gone", nil), http.StatusNotFound},
		{"malformed", NewMalformedResponseError("shape", nil), http.StatusBadGateway},
		{"transport", NewTransportError("down", nil), http.StatusBadGateway},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", NewValidationError("bad", nil)), http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWrapErrorKeepsType(t *testing.T) {
	base := NewUnauthorizedError("token rejected", nil)
	wrapped := WrapError(base, "inference", ErrorTypeError)

	if !IsUnauthorizedError(wrapped) {
		t.Fatalf("包装后应保留未授权类型: %v", wrapped)
	}
	if wrapped.Error() == base.Error() {
		t.Fatalf("包装后的消息应包含前缀")
	}
	if WrapError(nil, "x", ErrorTypeError) != nil {
		t.Fatalf("nil 错误包装后应为 nil")
	}
}
