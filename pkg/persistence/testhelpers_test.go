package persistence

import (
	"os"
	"testing"
)

func readRaw(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func writeRaw(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
