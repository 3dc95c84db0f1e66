package carrier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"

	"github.com/anywire/anywire/cmn/nlog"
)

// FolderBinding implements Binding over a shared directory on a filesystem
// (local disk, NFS mount, etc.) — the reference medium from spec.md §6.
// Listing uses godirwalk, the fast directory scanner aistore's own
// object-store backend (fs/) uses for scanning mountpaths; a plain
// os.ReadDir would do the same job but godirwalk avoids the full
// stat-every-entry overhead on large shared directories, which matters
// here because List() runs on every poll tick.
type FolderBinding struct {
	dir string
	mu  sync.Mutex // serializes writes; godirwalk scans need no lock
}

func NewFolderBinding(dir string) (*FolderBinding, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("carrier: mkdir %s: %w", dir, err)
	}
	return &FolderBinding{dir: dir}, nil
}

func (b *FolderBinding) path(name string) string { return filepath.Join(b.dir, name) }

// Send writes to a dotfile temp name then renames, so no lister ever
// observes a partial write (spec §4.1 atomicity rule).
func (b *FolderBinding) Send(sender, recipient string, sid, seq uint64, payload []byte) (string, error) {
	if err := validate(sender, recipient); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	name := encodeBlobName(Fields{Sender: sender, Recipient: recipient, Sid: sid, Seq: seq})
	tmp := b.path(tempName(name))
	final := b.path(name)
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", fmt.Errorf("carrier(folder): write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("carrier(folder): rename %s: %w", tmp, err)
	}
	return name, nil
}

func (b *FolderBinding) List(filter Filter) ([]string, error) {
	var uids []string
	err := godirwalk.Walk(b.dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(_ string, de *godirwalk.Dirent) error {
			name := de.Name()
			if strings.HasPrefix(name, ".") || de.IsDir() {
				return nil
			}
			fl, ok := decodeBlobName(name)
			if !ok {
				return nil
			}
			if filter.matches(fl) {
				uids = append(uids, name)
			}
			return nil
		},
		ErrorCallback: func(_ string, err error) godirwalk.ErrorAction {
			nlog.Warningf("carrier(folder): walk: %v", err)
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, &errTransient{err}
	}
	return uids, nil
}

func (b *FolderBinding) Fetch(uid string) (Fields, []byte, error) {
	fl, ok := decodeBlobName(uid)
	if !ok {
		return Fields{}, nil, fmt.Errorf("carrier(folder): %w: malformed uid %q", errBadUID, uid)
	}
	payload, err := os.ReadFile(b.path(uid))
	if os.IsNotExist(err) {
		return Fields{}, nil, notFoundErr(uid)
	}
	if err != nil {
		return Fields{}, nil, &errTransient{err}
	}
	return fl, payload, nil
}

func (b *FolderBinding) Delete(uid string) error {
	fl, ok := decodeBlobName(uid)
	if ok && fl.Recipient == Any {
		return nil // broadcast blobs are left in place; see carrier/seen.go
	}
	err := os.Remove(b.path(uid))
	if err != nil && !os.IsNotExist(err) {
		return &errTransient{err}
	}
	return nil // deleting a vanished file is not an error: idempotent delete
}

func (b *FolderBinding) PublishCapabilities(rid string, names []string) error {
	body := encodeCapabilities(names)
	tmp := b.path(tempName(capaName(rid)))
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return &errTransient{err}
	}
	return os.Rename(tmp, b.path(capaName(rid)))
}

func (b *FolderBinding) ListCapabilities() ([]string, error) {
	var rids []string
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, &errTransient{err}
	}
	for _, e := range entries {
		if rid, ok := ridFromCapaName(e.Name()); ok {
			rids = append(rids, rid)
		}
	}
	return rids, nil
}

func (b *FolderBinding) Capabilities(rid string) ([]string, error) {
	data, err := os.ReadFile(b.path(capaName(rid)))
	if os.IsNotExist(err) {
		return nil, notFoundErr(rid)
	}
	if err != nil {
		return nil, &errTransient{err}
	}
	return decodeCapabilities(data)
}

func (b *FolderBinding) RemoveCapabilities(rid string) error {
	err := os.Remove(b.path(capaName(rid)))
	if err != nil && !os.IsNotExist(err) {
		return &errTransient{err}
	}
	return nil
}

func (b *FolderBinding) Close() error { return nil }
