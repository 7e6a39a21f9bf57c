package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
)

// ContentStore is the content-addressed blob store backing snapshot
// reversibility. Blobs are immutable once written; Put is idempotent.
type ContentStore struct {
	dir string
}

// NewContentStore opens the object store beneath home.
func NewContentStore(home string) *ContentStore {
	return &ContentStore{dir: filepath.Join(home, "state", "objects")}
}

func (cs *ContentStore) objectPath(sha string) string {
	// Two-level fan-out keeps directories small.
	return filepath.Join(cs.dir, sha[:2], sha)
}

// Put stores data and returns its sha256 address.
func (cs *ContentStore) Put(data []byte) (string, error) {
	sha := ids.SHA256Hex(data)
	path := cs.objectPath(sha)
	if _, err := os.Stat(path); err == nil {
		return sha, nil
	}
	if err := fsutil.WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("store object %s: %w", sha, err)
	}
	return sha, nil
}

// Get retrieves a blob by address.
func (cs *ContentStore) Get(sha string) ([]byte, error) {
	data, err := os.ReadFile(cs.objectPath(sha))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", sha, err)
	}
	return data, nil
}

// Has reports whether a blob exists.
func (cs *ContentStore) Has(sha string) bool {
	_, err := os.Stat(cs.objectPath(sha))
	return err == nil
}
