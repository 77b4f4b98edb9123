package existdb

import "testing"

func TestManglePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/a/b/", "a/b"},
		{"a/b/", "a/b"},
		{"a/b", "a/b"},
		{"//a/b", "a/b"},
		{"/", "."},
		{"", "."},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ManglePath(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestManglePathLeadingSlashInsensitive(t *testing.T) {
	if ManglePath("/a/b/") != ManglePath("a/b/") {
		t.Errorf("expected %q and %q to mangle identically", "/a/b/", "a/b/")
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
	}{
		{"b", true},
		{"document.xml", true},
		{"a/b", false},
		{"a/../b", false},
		{"./b", false},
		{"/b", false},
		{"", false},
		{".", false},
		{"..", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.valid && err != nil {
				t.Errorf("expected %q to be valid, got %v", tt.filename, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("expected %q to be rejected", tt.filename)
			}
		})
	}
}
