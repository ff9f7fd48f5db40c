package repo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// WriteRef atomically replaces the ref file for name (under refs/heads, or
// refs/remotes/<remote> when remote is non-empty), serializing against
// other ref writers with the repo's transaction lock. The stored content
// is exactly the 64-hex checksum followed by a newline (§3, scenario D).
func (r *Repo) WriteRef(remote, name string, sum checksum.Hash) error {
	if err := r.lock.Lock(); err != nil {
		return err
	}
	defer r.lock.Unlock()

	path := r.refPath(remote, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ostreeerr.IOf("repo: mkdir ref parent: %w", err)
	}

	tmp, err := r.stageTemp([]byte(sum.String() + "\n"))
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ostreeerr.IOf("repo: rename ref into place: %w", err)
	}

	if r.index != nil {
		spec := name
		if remote != "" {
			spec = remote + ":" + name
		}
		r.index.InvalidateRev(spec)
	}
	return nil
}

// WriteTag writes name under tags/ the same way WriteRef writes a branch.
func (r *Repo) WriteTag(name string, sum checksum.Hash) error {
	if err := r.lock.Lock(); err != nil {
		return err
	}
	defer r.lock.Unlock()

	path := filepath.Join(tagsDir(r.Dir), filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ostreeerr.IOf("repo: mkdir tag parent: %w", err)
	}
	tmp, err := r.stageTemp([]byte(sum.String() + "\n"))
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ostreeerr.IOf("repo: rename tag into place: %w", err)
	}
	return nil
}

func (r *Repo) refPath(remote, name string) string {
	name = filepath.FromSlash(name)
	if remote == "" {
		return filepath.Join(refsHeadsDir(r.Dir), name)
	}
	return filepath.Join(refsRemotesDir(r.Dir), remote, name)
}

func readRefFile(path string) (checksum.Hash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checksum.Hash{}, ostreeerr.NotFoundf("repo: ref %s not found", path)
		}
		return checksum.Hash{}, ostreeerr.IOf("repo: read ref: %w", err)
	}
	line := strings.TrimSuffix(string(data), "\n")
	if line != string(data) && strings.Contains(line, "\n") {
		return checksum.Hash{}, ostreeerr.InvalidFormatf("repo: ref file %s has extra lines", path)
	}
	return checksum.ParseHash(line)
}

// ResolveRev resolves a spec per §4.3: a bare 64-hex checksum first, then
// `refs/heads/<spec>`, then the `<remote>:<name>` remote-ref form.
func (r *Repo) ResolveRev(spec string) (checksum.Hash, error) {
	if r.index != nil {
		if cached, ok := r.index.LookupRev(spec); ok {
			if sum, err := checksum.ParseHash(cached); err == nil {
				return sum, nil
			}
		}
	}

	if sum, err := checksum.ParseHash(spec); err == nil {
		return sum, nil
	}

	if remote, name, ok := strings.Cut(spec, ":"); ok {
		sum, err := readRefFile(r.refPath(remote, name))
		if err != nil {
			return checksum.Hash{}, err
		}
		r.cacheRev(spec, sum)
		return sum, nil
	}

	sum, err := readRefFile(r.refPath("", spec))
	if err != nil {
		return checksum.Hash{}, err
	}
	r.cacheRev(spec, sum)
	return sum, nil
}

func (r *Repo) cacheRev(spec string, sum checksum.Hash) {
	if r.index != nil {
		r.index.CacheRev(spec, sum.String())
	}
}

// ListRefs returns every branch name under refs/heads, recursively (ref
// names may contain "/").
func (r *Repo) ListRefs() ([]string, error) {
	return listRefNames(refsHeadsDir(r.Dir))
}

// ListTags returns every tag name under tags/.
func (r *Repo) ListTags() ([]string, error) {
	return listRefNames(tagsDir(r.Dir))
}

func listRefNames(root string) ([]string, error) {
	var names []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, ostreeerr.IOf("repo: list refs: %w", err)
	}
	return names, nil
}
