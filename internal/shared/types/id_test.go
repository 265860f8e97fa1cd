package types

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}

	upper, err := ParseID("{" + strings.ToUpper(id.String()) + "}")
	if err != nil {
		t.Fatalf("Expected braced upper-case form to parse, got %v", err)
	}
	if upper != id {
		t.Errorf("Expected canonical %s, got %s", id, upper)
	}

	if _, err := ParseID("INC-AB12CD"); err == nil {
		t.Error("Expected error for a non-UUID string")
	}
}

func TestScan(t *testing.T) {
	raw := uuid.New()
	tests := []struct {
		name  string
		value any
		want  ID
	}{
		{"nil", nil, ""},
		{"string", raw.String(), ID(raw.String())},
		{"bytes", []byte(raw.String()), ID(raw.String())},
		{"binary uuid", [16]byte(raw), ID(raw.String())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			if err := id.Scan(tt.value); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if id != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, id)
			}
		})
	}
}

func TestValueOfZeroIDIsNull(t *testing.T) {
	v, err := ID("").Value()
	if err != nil || v != nil {
		t.Errorf("Expected nil value, got %v (%v)", v, err)
	}
}

func TestNewIDIsTimeOrdered(t *testing.T) {
	a, b := NewID(), NewID()
	if u := uuid.MustParse(a.String()); u.Version() != 7 {
		t.Errorf("Expected a v7 uuid, got version %d", u.Version())
	}
	if a == b {
		t.Error("Expected distinct ids")
	}
}
