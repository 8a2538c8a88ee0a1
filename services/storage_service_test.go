package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	storage, err := NewStorageService("local", t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewStorageService: %v", err)
	}
	ctx := context.Background()
	key := GenerateOutputKey("s1", "e1")

	if err := storage.SaveOutput(ctx, key, []byte("out")); err != nil {
		t.Fatalf("SaveOutput: %v", err)
	}
	data, err := storage.GetOutput(ctx, key)
	if err != nil || string(data) != "out" {
		t.Fatalf("GetOutput = %q, %v", data, err)
	}

	if err := storage.DeleteOutput(ctx, key); err != nil {
		t.Fatalf("DeleteOutput: %v", err)
	}
	if err := storage.DeleteOutput(ctx, key); err != nil {
		t.Errorf("second DeleteOutput: %v", err)
	}
	if _, err := storage.GetOutput(ctx, key); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("GetOutput after delete err = %v", err)
	}
}

func TestNewStorageServiceTypes(t *testing.T) {
	storage, err := NewStorageService("", "", false)
	if err != nil || storage != nil {
		t.Errorf("disabled archive = %v, %v", storage, err)
	}
	if _, err := NewStorageService("ftp", "/x", false); err == nil {
		t.Error("unknown type accepted")
	}
}

func TestGenerateOutputKey(t *testing.T) {
	tests := []struct {
		session, execution, want string
	}{
		{"s1", "e1", "outputs/s1/e1.log"},
		{"../../etc", "e1", "outputs/.._.._etc/e1.log"},
		{"..", "e/1", "outputs/_/e_1.log"},
		{"", "e1", "outputs/_/e1.log"},
	}
	for _, tt := range tests {
		got := GenerateOutputKey(tt.session, tt.execution)
		if got != tt.want {
			t.Errorf("GenerateOutputKey(%q, %q) = %q, want %q", tt.session, tt.execution, got, tt.want)
		}
		if strings.Contains(strings.TrimPrefix(got, "outputs/"), "/../") {
			t.Errorf("key %q escapes the archive", got)
		}
	}
}
