package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

type BlobStore interface {
	Put(key string, r io.Reader) (string, int64, string, error) // returns key, size, sha256
	Delete(key string) error
	Path(key string) (string, error) // local path (для local)
}

type LocalBlobStore struct {
	Root string // например, "./uploads"

	once    sync.Once
	mu      sync.Mutex
	entropy io.Reader
}

// cleanKey отбрасывает ключи, выходящие за корень хранилища.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." || strings.Contains(key, "..") {
		return "", errors.Errorf("invalid blob key %q", key)
	}
	return k, nil
}

func (s *LocalBlobStore) ensureDir(p string) error {
	return os.MkdirAll(p, 0o755)
}

func (s *LocalBlobStore) newKey() string {
	s.once.Do(func() {
		s.entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	return fmt.Sprintf("%04d/%02d/%s", now.Year(), int(now.Month()),
		strings.ToLower(ulid.MustNew(ulid.Timestamp(now), s.entropy).String()))
}

func (s *LocalBlobStore) Put(key string, r io.Reader) (string, int64, string, error) {
	if key == "" {
		key = s.newKey()
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", 0, "", err
	}
	full := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := s.ensureDir(filepath.Dir(full)); err != nil {
		return "", 0, "", errors.Wrap(err, "create blob dir")
	}
	f, err := os.Create(full)
	if err != nil {
		return "", 0, "", errors.Wrap(err, "create blob")
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		_ = os.Remove(full)
		return "", 0, "", errors.Wrap(err, "write blob")
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return key, n, sum, nil
}

func (s *LocalBlobStore) Delete(key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

func (s *LocalBlobStore) Path(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(key)), nil
}
