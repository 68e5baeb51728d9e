package logsanitize

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain string", "ada@example.com", "ada@example.com"},
		{"newline injection", "user\nFAKE LOG LINE", "user_FAKE LOG LINE"},
		{"carriage return", "user\rextra", "user_extra"},
		{"tab preserved", "col1\tcol2", "col1\tcol2"},
		{"null byte", "user\x00name", "user_name"},
		{"del and c1 controls", "a\x7fb\x9fc", "a_b_c"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactToken(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"short token fully masked", "abc", "****"},
		{"boundary length fully masked", "12345678", "****"},
		{"long token keeps prefix", "eyJhbGciOiJIUzI1NiJ9", "eyJh****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactToken(tt.input); got != tt.want {
				t.Errorf("RedactToken(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
