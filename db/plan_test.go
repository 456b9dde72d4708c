package db

import (
	"testing"
)

// TestJSONMapScan tests decoding a JSON column from the driver's value types
func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	if err := m.Scan(`{"phase_1": {"score": 0.9}}`); err != nil {
		t.Fatalf("Scan from string failed: %v", err)
	}
	if _, ok := m["phase_1"]; !ok {
		t.Errorf("Expected phase_1 key, got %v", m)
	}

	var fromBytes JSONMap
	if err := fromBytes.Scan([]byte(`{"a": 1}`)); err != nil {
		t.Fatalf("Scan from bytes failed: %v", err)
	}
	if len(fromBytes) != 1 {
		t.Errorf("Expected one key, got %v", fromBytes)
	}

	var fromNil JSONMap
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan from nil failed: %v", err)
	}
	if fromNil == nil || len(fromNil) != 0 {
		t.Errorf("Expected empty map from nil column, got %v", fromNil)
	}

	var bad JSONMap
	if err := bad.Scan(42); err == nil {
		t.Error("Expected error scanning an int column")
	}
}

// TestJSONMapValue tests encoding a JSON column for the driver
func TestJSONMapValue(t *testing.T) {
	m := JSONMap{"phase_1": "done"}
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != `{"phase_1":"done"}` {
		t.Errorf("Unexpected encoding: %v", v)
	}

	var nilMap JSONMap
	v, err = nilMap.Value()
	if err != nil || v != nil {
		t.Errorf("Expected nil value for nil map, got %v, %v", v, err)
	}
}
