package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"on", false, true},
		{"false", true, false},
		{"no", true, false},
		{"0", true, false},
		{"off", true, false},
		{"banana", true, true},
		{"banana", false, false},
	}
	for _, tc := range cases {
		t.Setenv("CHATFLOW_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("CHATFLOW_TEST_BOOL", tc.def); got != tc.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, expected %v", tc.value, tc.def, got, tc.expected)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	cases := []struct {
		value    string
		def      int
		expected int
	}{
		{"", 7, 7},
		{"3", 7, 3},
		{" 42 ", 7, 42},
		{"-1", 7, -1},
		{"banana", 7, 7},
	}
	for _, tc := range cases {
		t.Setenv("CHATFLOW_TEST_INT", tc.value)
		if got := ParseIntEnv("CHATFLOW_TEST_INT", tc.def); got != tc.expected {
			t.Errorf("ParseIntEnv(%q, %d) = %d, expected %d", tc.value, tc.def, got, tc.expected)
		}
	}
}
