package main

import (
	"strings"
	"testing"

	"grocerstock/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"empty secret", "", true},
		{"short secret", "too-short", true},
		{"long enough", strings.Repeat("x", 32), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(config.Config{AuthSecret: tc.secret})
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
