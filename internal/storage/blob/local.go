package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

// LocalStore keeps original uploaded bytes on the local filesystem under a
// single root directory. Writes go through a temp file plus rename so a
// concurrent reader never sees a partially written object.
type LocalStore struct {
	root   string
	secret []byte
	logger arbor.ILogger
}

// NewLocalStore creates the root directory if needed and returns a store
// rooted there. The signing secret backs presigned download URLs; when the
// config leaves it empty a random one is generated per process, which
// invalidates outstanding URLs across restarts.
func NewLocalStore(logger arbor.ILogger, config *common.BlobConfig) (*LocalStore, error) {
	root, err := filepath.Abs(config.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}

	secret := []byte(config.SigningSecret)
	if len(secret) == 0 {
		secret = []byte(common.NewRequestID())
		logger.Warn().Msg("Blob signing secret not configured, presigned URLs will not survive restarts")
	}

	logger.Info().Str("root", root).Msg("Local blob store initialized")
	return &LocalStore{root: root, secret: secret, logger: logger}, nil
}

// resolve maps a blob key to an absolute path under the root, rejecting
// anything that would escape it.
func (s *LocalStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key is empty")
	}
	if strings.Contains(key, "\\") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	full := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key %q escapes storage root", key)
	}
	return full, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	full, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to publish blob: %w", err)
	}

	s.logger.Debug().Str("key", key).Int64("bytes", written).Msg("Blob stored")
	return written, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", key, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Stat(ctx context.Context, key string) (*interfaces.BlobInfo, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", key, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat blob: %w", err)
	}
	return &interfaces.BlobInfo{
		Key:       key,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime().UTC(),
	}, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete blob: %w", err)
	}

	// Drop now-empty parent directories up to the root, best effort.
	dir := filepath.Dir(full)
	for dir != s.root {
		if os.Remove(dir) != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return true, nil
}

// SignURL mints a download path of the form
// /api/v1/blobs/{key}?expires={unix}&sig={hmac}. The signature covers the key
// and the expiry so neither can be swapped.
func (s *LocalStore) SignURL(key string, expiresAt time.Time) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	expires := strconv.FormatInt(expiresAt.Unix(), 10)
	sig := s.sign(key, expires)
	return fmt.Sprintf("/api/v1/blobs/%s?expires=%s&sig=%s", key, expires, sig), nil
}

// VerifyURL checks the signature and expiry from a presigned URL and returns
// the verified key. Expired or tampered URLs get ErrNotFound so callers leak
// nothing about which part failed.
func (s *LocalStore) VerifyURL(key, expires, signature string) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	expected := s.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", fmt.Errorf("invalid blob signature: %w", interfaces.ErrNotFound)
	}
	ts, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || time.Now().UTC().After(time.Unix(ts, 0)) {
		return "", fmt.Errorf("blob URL expired: %w", interfaces.ErrNotFound)
	}
	return key, nil
}

func (s *LocalStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}
