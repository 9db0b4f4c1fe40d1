package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw    string
		region string
		want   string
		ok     bool
	}{
		{"+1 415-555-2671", "US", "+14155552671", true},
		{"(415) 555-2671", "US", "+14155552671", true},
		{"13800138000", "CN", "+8613800138000", true},
		{"+8613800138000", "US", "+8613800138000", true},
		{"", "US", "", false},
		{"12345", "US", "", false},
		{"not a phone", "US", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.raw, tc.region)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("NormalizePhone(%q, %q) = %q, %v; want %q", tc.raw, tc.region, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("NormalizePhone(%q, %q) = %q, want error", tc.raw, tc.region, got)
		}
	}
}

func TestHashPhone(t *testing.T) {
	a := HashPhone("+14155552671")
	if a != HashPhone("+14155552671") {
		t.Fatalf("HashPhone not deterministic")
	}
	if a == HashPhone("+14155552672") {
		t.Fatalf("HashPhone collision on distinct numbers")
	}
	if len(a) != 32 {
		t.Fatalf("len(HashPhone) = %d, want 32", len(a))
	}
}
