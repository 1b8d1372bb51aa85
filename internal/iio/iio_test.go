package iio

import (
	"os"
	"path/filepath"
	"testing"
)

func writeChannel(t *testing.T, raw, scale string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "iio:device0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "in_voltage2_raw"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "in_voltage_scale"), []byte(scale), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestReadMillivolts(t *testing.T) {
	root := writeChannel(t, "2000\n", "0.5\n")
	ch := NewChannel(root, 0, 2)

	mv, err := ch.ReadMillivolts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mv != 1000 {
		t.Errorf("expected 1000 mV, got %d", mv)
	}
}

func TestReadMillivoltsScaledWithBias(t *testing.T) {
	root := writeChannel(t, "2000", "1")
	ch := NewChannel(root, 0, 2)
	ch.Num = 8
	ch.Den = 1
	ch.BiasMV = 12000

	mv, err := ch.ReadMillivolts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mv != 4000 {
		t.Errorf("expected 4000 mV, got %d", mv)
	}
}

func TestReadMillivoltsMissing(t *testing.T) {
	ch := NewChannel(t.TempDir(), 3, 0)
	if _, err := ch.ReadMillivolts(); err == nil {
		t.Error("expected error for missing channel")
	}
}

func TestReadMillivoltsGarbage(t *testing.T) {
	root := writeChannel(t, "abc", "1")
	ch := NewChannel(root, 0, 2)
	if _, err := ch.ReadMillivolts(); err == nil {
		t.Error("expected parse error")
	}
}
