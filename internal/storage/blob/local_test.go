package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

func setupTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(arbor.NewLogger(), &common.BlobConfig{
		LocalDir:      t.TempDir(),
		SigningSecret: "test-secret",
	})
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}
	return store
}

func TestLocalStore_PutGetRoundtrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := DocumentKey("doc_1", 1, "report.pdf")

	content := "original document bytes"
	written, err := store.Put(ctx, key, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if written != int64(len(content)) {
		t.Errorf("Expected %d bytes written, got %d", len(content), written)
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != content {
		t.Errorf("Content mismatch: %q", got)
	}

	info, err := store.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.SizeBytes != int64(len(content)) {
		t.Errorf("Stat size mismatch: %d", info.SizeBytes)
	}
}

func TestLocalStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "documents/doc_x/v1/missing.pdf")
	if !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestLocalStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := DocumentKey("doc_1", 1, "a.txt")

	if _, err := store.Put(ctx, key, strings.NewReader("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := store.Delete(ctx, key)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !removed {
		t.Error("Expected removed=true for existing blob")
	}

	// Deleting again is a no-op, not an error. The deletion executor
	// retries tasks and the second pass must succeed.
	removed, err = store.Delete(ctx, key)
	if err != nil {
		t.Fatalf("Second delete errored: %v", err)
	}
	if removed {
		t.Error("Expected removed=false for absent blob")
	}
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	bad := []string{
		"",
		"../outside.txt",
		"documents/../../etc/passwd",
		"/etc/passwd",
		"documents\\doc_1\\v1\\a.txt",
	}
	for _, key := range bad {
		if _, err := store.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("Key %q should have been rejected", key)
		}
	}
}

func TestLocalStore_SignedURLs(t *testing.T) {
	store := setupTestStore(t)
	key := DocumentKey("doc_1", 2, "report.pdf")

	url, err := store.SignURL(key, time.Now().UTC().Add(15*time.Minute))
	if err != nil {
		t.Fatalf("SignURL failed: %v", err)
	}
	if !strings.Contains(url, key) || !strings.Contains(url, "sig=") {
		t.Fatalf("Unexpected URL shape: %s", url)
	}

	parts := strings.SplitN(url, "?", 2)
	params := map[string]string{}
	for _, kv := range strings.Split(parts[1], "&") {
		p := strings.SplitN(kv, "=", 2)
		params[p[0]] = p[1]
	}

	verified, err := store.VerifyURL(key, params["expires"], params["sig"])
	if err != nil {
		t.Fatalf("VerifyURL failed: %v", err)
	}
	if verified != key {
		t.Errorf("Expected key %s, got %s", key, verified)
	}

	// Tampered signature.
	_, err = store.VerifyURL(key, params["expires"], "deadbeef")
	if !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for bad signature, got: %v", err)
	}

	// Swapping in a later expiry invalidates the signature.
	_, err = store.VerifyURL(key, "99999999999", params["sig"])
	if !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for tampered expiry, got: %v", err)
	}

	// Expired URL with a valid signature.
	expiredURL, err := store.SignURL(key, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("SignURL failed: %v", err)
	}
	expiredParams := strings.SplitN(expiredURL, "?", 2)[1]
	var expires, sig string
	for _, kv := range strings.Split(expiredParams, "&") {
		p := strings.SplitN(kv, "=", 2)
		switch p[0] {
		case "expires":
			expires = p[1]
		case "sig":
			sig = p[1]
		}
	}
	_, err = store.VerifyURL(key, expires, sig)
	if !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired URL, got: %v", err)
	}
}

func TestDocumentKey(t *testing.T) {
	key := DocumentKey("doc_abc", 3, "../../../etc/passwd")
	if key != "documents/doc_abc/v3/passwd" {
		t.Errorf("Traversal should be stripped from filename, got %s", key)
	}

	key = DocumentKey("doc_abc", 1, "Q3 Report (final).pdf")
	if key != "documents/doc_abc/v1/Q3 Report (final).pdf" {
		t.Errorf("Safe characters should be preserved, got %s", key)
	}
}

func TestNewStore_Backends(t *testing.T) {
	logger := arbor.NewLogger()

	if _, err := NewStore(logger, &common.BlobConfig{Backend: "local", LocalDir: t.TempDir()}); err != nil {
		t.Errorf("Local backend failed: %v", err)
	}
	if _, err := NewStore(logger, &common.BlobConfig{Backend: "s3"}); err == nil {
		t.Error("S3 backend should be rejected")
	}
	if _, err := NewStore(logger, &common.BlobConfig{Backend: "gcs"}); err == nil {
		t.Error("Unknown backend should be rejected")
	}
}
