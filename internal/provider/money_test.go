package provider

import "testing"

func TestDecimalToMinor(t *testing.T) {
	cases := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{value: "24.99", want: 2499},
		{value: "7", want: 700},
		{value: "0.5", want: 50},
		{value: "0.50", want: 50},
		{value: "0", want: 0},
		{value: " 24.99 ", want: 2499},
		{value: "1050.00", want: 105000},
		{value: "12.345", wantErr: true},
		{value: "12.", wantErr: true},
		{value: "abc", wantErr: true},
		{value: "-1.00", wantErr: true},
		{value: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := decimalToMinor(tc.value)
		if tc.wantErr {
			if err == nil {
				t.Errorf("decimalToMinor(%q): expected error, got %d", tc.value, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("decimalToMinor(%q): unexpected error: %v", tc.value, err)
			continue
		}
		if got != tc.want {
			t.Errorf("decimalToMinor(%q) = %d, want %d", tc.value, got, tc.want)
		}
	}
}

func TestMinorToDecimal(t *testing.T) {
	cases := []struct {
		minor int64
		want  string
	}{
		{minor: 2499, want: "24.99"},
		{minor: 700, want: "7.00"},
		{minor: 5, want: "0.05"},
		{minor: 0, want: "0.00"},
		{minor: 105000, want: "1050.00"},
		{minor: -2499, want: "-24.99"},
	}

	for _, tc := range cases {
		if got := minorToDecimal(tc.minor); got != tc.want {
			t.Errorf("minorToDecimal(%d) = %q, want %q", tc.minor, got, tc.want)
		}
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 1, 99, 100, 2499, 999999} {
		got, err := decimalToMinor(minorToDecimal(minor))
		if err != nil {
			t.Fatalf("round trip %d: %v", minor, err)
		}
		if got != minor {
			t.Fatalf("round trip %d: got %d", minor, got)
		}
	}
}
