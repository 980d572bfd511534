package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest    = "INVALID_REQUEST"
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeForbidden         = "FORBIDDEN"
	ErrorCodeRateLimited       = "RATE_LIMITED"
	ErrorCodeAccountExists     = "ACCOUNT_EXISTS"
	ErrorCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrorCodeBankCapExceeded   = "BANK_CAP_EXCEEDED"
	ErrorCodeInvalidDeposit    = "INVALID_DEPOSIT"
	ErrorCodeTokenNotSupported = "TOKEN_NOT_SUPPORTED"
	ErrorCodeWithdrawLimit     = "WITHDRAW_LIMIT_EXCEEDED"
	ErrorCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrorCodeConflict          = "CONFLICT"
	ErrorCodeTransferFailed    = "TRANSFER_FAILED"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d (body %s)", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d (body %s)", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeBankCapExceeded, ErrorCodeInvalidDeposit,
		ErrorCodeTokenNotSupported, ErrorCodeWithdrawLimit, ErrorCodeInsufficientFunds:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeAccountNotFound:
		return http.StatusNotFound
	case ErrorCodeAccountExists, ErrorCodeConflict:
		return http.StatusConflict
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeTransferFailed:
		return http.StatusBadGateway
	case ErrorCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
