package updatecheck

import "testing"

func TestIsNewer(t *testing.T) {
	for _, tc := range []struct {
		current, latest string
		want            bool
	}{
		{"1.0.0", "1.0.1", true},
		{"1.0.1", "1.0.0", false},
		{"1.0.0", "1.0.0", false},
		{"1.2", "1.2.0", false},
		{"1.2", "1.2.1", true},
		{"v1.9.0", "1.10.0", true},
		{"1.10.0", "1.9.9", false},
		{"2.0.0-beta", "2.0.0", true},
		{"2.0.0-beta", "2.0.1", true},
		{"", "0.0.1", false},
		{"1.0.0", "", false},
		{"1.0.0", "latest", false},
	} {
		if got := IsNewer(tc.current, tc.latest); got != tc.want {
			t.Errorf("IsNewer(%q, %q) = %t, want %t", tc.current, tc.latest, got, tc.want)
		}
	}
}
