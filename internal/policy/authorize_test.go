package policy

import (
	"errors"
	"testing"
)

func TestAuthorizeToken(t *testing.T) {
	cases := []struct {
		expected string
		supplied string
		wantErr  bool
	}{
		{"", "", false},
		{"", "anything", false},
		{"s3cret", "s3cret", false},
		{"s3cret", " s3cret ", false},
		{"s3cret", "", true},
		{"s3cret", "S3CRET", true},
	}
	for _, tc := range cases {
		err := AuthorizeToken(tc.expected, tc.supplied)
		if (err != nil) != tc.wantErr {
			t.Fatalf("AuthorizeToken(%q, %q) error = %v, wantErr %v", tc.expected, tc.supplied, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("error = %v, want ErrUnauthorized", err)
		}
	}
}
