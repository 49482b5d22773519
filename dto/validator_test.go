package dto

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"full mongolian", "+97699112233", "+97699112233", false},
		{"bare local", "99112233", "+97699112233", false},
		{"local with spaces", "9911 2233", "+97699112233", false},
		{"local with dashes", "9911-2233", "+97699112233", false},
		{"padded", "  99112233  ", "+97699112233", false},
		{"international with plus", "+12025550123", "+12025550123", false},
		{"international without plus", "12025550123", "+12025550123", false},
		{"too short", "1234", "", true},
		{"leading zero", "0801234567", "", true},
		{"letters", "99112abc", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range tests {
		got, err := NormalizePhone(tc.raw)

		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPhone) {
				t.Fatalf("%s: expected ErrInvalidPhone, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestStartSessionRequestDeviceHashValidation(t *testing.T) {
	valid := StartSessionRequest{
		DeviceHash: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error for valid hash: %v", err)
	}

	empty := StartSessionRequest{}
	if err := empty.Validate(); err != nil {
		t.Fatalf("device hash is optional, got %v", err)
	}

	for name, hash := range map[string]string{
		"uppercase": "0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF",
		"too short": "abc123",
		"non-hex":   "zzzz456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	} {
		req := StartSessionRequest{DeviceHash: hash}
		if err := req.Validate(); err == nil {
			t.Fatalf("%s: expected validation failure", name)
		}
	}
}

func TestRegisterRequestPhoneValidation(t *testing.T) {
	if err := (RegisterRequest{Phone: "99112233"}).Validate(); err != nil {
		t.Fatalf("unexpected error for local phone: %v", err)
	}
	if err := (RegisterRequest{Phone: "not-a-phone"}).Validate(); err == nil {
		t.Fatalf("expected validation failure for junk phone")
	}
	if err := (RegisterRequest{}).Validate(); err == nil {
		t.Fatalf("expected validation failure for missing phone")
	}
}

func TestFormatValidationErrorsMessages(t *testing.T) {
	err := (RegisterRequest{Phone: "bad"}).Validate()
	if err == nil {
		t.Fatalf("expected a validation error")
	}

	resp := CreateValidationErrorResponse(err)
	if resp.Code != 400 {
		t.Fatalf("expected code 400, got %d", resp.Code)
	}
	if len(resp.Errors) == 0 {
		t.Fatalf("expected field errors")
	}
	if resp.Errors[0].Message != "Invalid phone number format (+976XXXXXXXX)" {
		t.Fatalf("unexpected message %q", resp.Errors[0].Message)
	}
}
