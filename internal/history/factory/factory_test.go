package factory

import (
	"path/filepath"
	"testing"
)

func TestEmptyDSN(t *testing.T) {
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteByDefault(t *testing.T) {
	sink, err := NewSinkFromDSN(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	if sink == nil {
		t.Fatal("nil sink")
	}
}

func TestSQLiteScheme(t *testing.T) {
	sink, err := NewSinkFromDSN("sqlite://" + filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	if sink == nil {
		t.Fatal("nil sink")
	}
}

func TestClickHouseMissingHost(t *testing.T) {
	if _, err := NewSinkFromDSN("clickhouse://"); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestOpenSearchParses(t *testing.T) {
	sink, err := NewSinkFromDSN("opensearch://localhost:9200/my-index")
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	if sink == nil {
		t.Fatal("nil sink")
	}
}
