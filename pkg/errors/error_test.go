package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codejudge/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{LanguageNotSupported, "Programming language not supported"},
		{JudgeQueueFull, "Judge queue is full, please try again later"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{LanguageNotSupported, 400},
		{CustomInputTooLarge, 400},
		{TokenInvalid, 401},
		{SubmissionNotFound, 404},
		{SubmissionNotJudging, 409},
		{JudgeQueueFull, 503},
		{JudgeSystemError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(LanguageNotSupported, "Unsupported language: %s", "cobol")
	if err.Error() != "Unsupported language: cobol" {
		t.Errorf("Error() = %v", err.Error())
	}
	if err.Code != LanguageNotSupported {
		t.Errorf("Code = %v", err.Code)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrapf(cause, JudgeSystemError, "write source failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if GetCode(err) != JudgeSystemError {
		t.Fatalf("unexpected code %v", GetCode(err))
	}
}

func TestGetCodeThroughFmtWrap(t *testing.T) {
	inner := New(JudgeQueueFull)
	outer := fmt.Errorf("dispatch: %w", inner)
	if !Is(outer, JudgeQueueFull) {
		t.Fatalf("expected Is to see through fmt wrapping")
	}
	if GetCode(errors.New("plain")) != InternalServerError {
		t.Fatalf("foreign errors should map to InternalServerError")
	}
	if GetCode(nil) != Success {
		t.Fatalf("nil should map to Success")
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("language", "required")
	if err.Code != ValidationFailed {
		t.Fatalf("unexpected code %v", err.Code)
	}
	if err.Details["field"] != "language" || err.Details["reason"] != "required" {
		t.Fatalf("unexpected details %v", err.Details)
	}
	if err.Error() != "language: required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
