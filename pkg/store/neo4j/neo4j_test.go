package neo4j

import "testing"

func TestSanitizeRelType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"WORKS_AT", "WORKS_AT"},
		{"works at", "WORKS_AT"},
		{"founded-by", "FOUNDED_BY"},
		{"  MENTIONS  ", "MENTIONS"},
		{"DROP TABLE; --", "DROP_TABLE"},
		{"", "RELATED_TO"},
		{"###", "RELATED_TO"},
	}
	for _, tt := range tests {
		if got := sanitizeRelType(tt.in); got != tt.want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
