// Package repo implements the on-disk repository store of §4.3: sharded
// object files, refs/tags, config, and per-commit state flags. Its
// write/read/link primitives are adapted from the teacher's content-
// addressed file store; its auxiliary lookup cache is adapted from the
// teacher's bbolt-backed key/value store.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ostree-go/ostree/internal/config"
	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/otlog"
)

// Mode is the storage mode recorded in `config`'s [core] section.
type Mode string

const (
	ModeBare     Mode = "bare"
	ModeBareUser Mode = "bare-user"
	ModeArchive  Mode = "archive"
)

// RepoVersion is the only repo_version this implementation understands.
const RepoVersion = "1"

// Repo is an open handle on a repository rooted at Dir.
type Repo struct {
	Dir  string
	Mode Mode

	log   *otlog.Logger
	index *Index // auxiliary bbolt cache, never authoritative
	lock  *txnLock
}

func objectsDir(root string) string { return filepath.Join(root, "objects") }
func refsHeadsDir(root string) string { return filepath.Join(root, "refs", "heads") }
func refsRemotesDir(root string) string { return filepath.Join(root, "refs", "remotes") }
func tagsDir(root string) string { return filepath.Join(root, "tags") }
func stateDir(root string) string { return filepath.Join(root, "state") }
func tempDir(root string) string { return filepath.Join(root, "tmp") }
func configPath(root string) string { return filepath.Join(root, "config") }

// Init creates a new repository at dir in the given mode and returns it
// opened. It is an error for dir to already contain a config file.
func Init(dir string, mode Mode) (*Repo, error) {
	if _, err := os.Stat(configPath(dir)); err == nil {
		return nil, ostreeerr.Policyf("repo: %s is already initialized", dir)
	}

	for _, d := range []string{dir, objectsDir(dir), refsHeadsDir(dir), refsRemotesDir(dir), tagsDir(dir), stateDir(dir), tempDir(dir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, ostreeerr.IOf("repo: mkdir %s: %w", d, err)
		}
	}

	cfg := config.New()
	cfg.Section("core").Set("repo_version", RepoVersion)
	cfg.Section("core").Set("mode", string(mode))
	if err := config.WriteFile(configPath(dir), cfg); err != nil {
		return nil, err
	}

	return Open(dir)
}

// Open opens an existing repository, loading its config and auxiliary
// index. A missing index is created empty (it is not rebuilt from
// objects/); if it cannot be opened, a warning is logged and the repo
// works without it.
func Open(dir string) (*Repo, error) {
	cfg, err := config.ParseFile(configPath(dir))
	if err != nil {
		return nil, err
	}
	if !cfg.HasSection("core") {
		return nil, ostreeerr.InvalidFormatf("repo: %s: missing [core] section in config", dir)
	}
	mode := Mode(cfg.Section("core").GetString("mode", string(ModeBare)))
	switch mode {
	case ModeBare, ModeBareUser, ModeArchive:
	default:
		return nil, ostreeerr.InvalidFormatf("repo: unknown mode %q", mode)
	}

	r := &Repo{
		Dir:  dir,
		Mode: mode,
		log:  otlog.Default.With("repo"),
		lock: newTxnLock(filepath.Join(dir, "transaction.lock")),
	}

	idx, err := OpenIndex(filepath.Join(stateDir(dir), "index.db"))
	if err != nil {
		r.log.Warn("auxiliary index unavailable, falling back to directory walks", otlog.F("err", err))
	} else {
		r.index = idx
	}

	return r, nil
}

// Close releases the auxiliary index handle, if any.
func (r *Repo) Close() error {
	if r.index != nil {
		return r.index.Close()
	}
	return nil
}

// ReadonlySysroot reports the [sysroot] readonly flag, consulting the
// auxiliary index's config cache before re-parsing the on-disk config
// (config is written once at Init and never rewritten afterward, so the
// cached value never goes stale for the lifetime of an open Repo).
func (r *Repo) ReadonlySysroot() (bool, error) {
	const cacheKey = "sysroot.readonly"
	if r.index != nil {
		if v, ok := r.index.LookupConfigValue(cacheKey); ok {
			return v == "true", nil
		}
	}

	cfg, err := config.ParseFile(configPath(r.Dir))
	if err != nil {
		return false, err
	}
	readonly, err := cfg.Section("sysroot").GetBool("readonly", false)
	if err != nil {
		return false, err
	}
	if r.index != nil {
		r.index.CacheConfigValue(cacheKey, strconv.FormatBool(readonly))
	}
	return readonly, nil
}

func (r *Repo) shardPath(hexsum string, ext string) (string, error) {
	if len(hexsum) != 64 {
		return "", ostreeerr.InvalidFormatf("repo: checksum %q is not 64 hex characters", hexsum)
	}
	return filepath.Join(objectsDir(r.Dir), hexsum[:2], fmt.Sprintf("%s.%s", hexsum[2:], ext)), nil
}
