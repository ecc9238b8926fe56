package format

import "testing"

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 KB"},
		{1500, "1.5 KB"},
		{2_500_000, "2.5 MB"},
		{7_000_000_000, "7.0 GB"},
	}

	for _, tt := range cases {
		if got := HumanBytes(tt.input); got != tt.expected {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestHumanBytes2(t *testing.T) {
	cases := []struct {
		input    uint64
		expected string
	}{
		{0, "0 B"},
		{32, "32 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{MebiByte, "1.0 MiB"},
		{3 * GibiByte / 2, "1.5 GiB"},
	}

	for _, tt := range cases {
		if got := HumanBytes2(tt.input); got != tt.expected {
			t.Errorf("HumanBytes2(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
