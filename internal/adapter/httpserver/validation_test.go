package httpserver

import "testing"

func TestValidateJobID(t *testing.T) {
	cases := []struct {
		name  string
		id    string
		valid bool
		code  string
	}{
		{"empty", "", false, "REQUIRED"},
		{"too_long", makeString(101, 'a'), false, "TOO_LONG"},
		{"invalid_chars", "abc$%", false, "INVALID_FORMAT"},
		{"valid", "job-123_ABC", true, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateJobID(tc.id)
			if res.Valid != tc.valid {
				t.Fatalf("Valid=%v, want %v", res.Valid, tc.valid)
			}
			if !tc.valid {
				if len(res.Errors) != 1 || res.Errors[0].Code != tc.code {
					t.Fatalf("unexpected error: %+v", res.Errors)
				}
			}
		})
	}
}

func TestSanitizeJobID(t *testing.T) {
	id := " job$%id-123_ABC "
	out := SanitizeJobID(id)
	if out != "jobid-123_ABC" {
		t.Fatalf("SanitizeJobID output=%q", out)
	}

	long := makeString(150, 'b')
	out = SanitizeJobID(long)
	if len(out) != 100 {
		t.Fatalf("expected length 100, got %d", len(out))
	}
}

func makeString(n int, ch rune) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = ch
	}
	return string(b)
}
