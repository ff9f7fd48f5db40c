package prepareroot

import (
	"os"
	"path/filepath"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/otlog"
	"github.com/ostree-go/ostree/internal/repo"
	"github.com/ostree-go/ostree/internal/sign"
	"github.com/ostree-go/ostree/internal/sign/ed25519verify"
	"github.com/ostree-go/ostree/internal/sign/gpg"
	"github.com/ostree-go/ostree/internal/sign/spki"
)

// composefsDigestKey is the well-known commit metadata key carrying the
// composefs image's expected fsverity digest (spec §3, §4.8 step 6).
const composefsDigestKey = "ostree.composefs.v0"

// Options gathers everything Run needs that would otherwise come from
// the live kernel/filesystem environment, so the orchestration sequence
// is exercisable against fakes.
type Options struct {
	Cmdline      string
	ConfLibPath  string // /usr/lib/ostree/prepare-root.conf
	ConfEtcPath  string // /etc/ostree/prepare-root.conf
	PhysicalRoot string // /sysroot or /, per §4.8's opening paragraph
	StagingDir   string // sysroot.tmp, or /run/nextroot for soft-reboot
	RuntimeStatePath string // /run/ostree-booted, or nextroot-booted
	PidOne       bool // running as PID 1 vs. under an initramfs init
	SoftReboot   bool // stage at /run/nextroot and skip pivot_root, per §4.8 step 5/10's parenthetical
	DeployRef    string // ref or checksum naming the commit backing deployPath, for signed composefs verification

	Repo     *repo.Repo
	Mounter  Mounter
	Composefs ComposefsMounter
	TrustedKeys [][]byte
	RevokedKeys [][]byte

	Log *otlog.Logger
}

// Run executes §4.8 steps 1-11. Every error returned is fatal: the
// caller (cmd/ostree-prepare-root) should treat any non-nil return as
// "refuse to boot", never as a partial/best-effort success.
func Run(opts Options) (RuntimeState, error) {
	log := opts.Log
	if log == nil {
		log = otlog.Default
	}

	deployPath, err := SelectDeployPath(opts.Cmdline)
	if err != nil {
		return RuntimeState{}, err
	}
	log.Info("selected deployment", otlog.F("path", deployPath))

	cfg, err := LoadConfig(opts.ConfLibPath, opts.ConfEtcPath)
	if err != nil {
		return RuntimeState{}, err
	}

	fullDeployPath := filepath.Join(opts.PhysicalRoot, deployPath)
	resolved, err := filepath.EvalSymlinks(fullDeployPath)
	if err != nil {
		return RuntimeState{}, ostreeerr.Fatalf("prepareroot: deploy path %s: %v", fullDeployPath, err)
	}
	if _, err := os.Stat(resolved); err != nil {
		return RuntimeState{}, ostreeerr.Fatalf("prepareroot: deploy path %s does not exist: %v", resolved, err)
	}

	if err := opts.Mounter.MakeRPrivate("/"); err != nil {
		return RuntimeState{}, err
	}

	if err := os.MkdirAll(opts.StagingDir, 0755); err != nil {
		return RuntimeState{}, ostreeerr.Fatalf("prepareroot: mkdir staging %s: %v", opts.StagingDir, err)
	}

	state := RuntimeState{
		SysrootReadonly: cfg.SysrootReadonly,
		RootTransient:   cfg.RootTransient,
		RootTransientRO: cfg.RootTransientRO,
	}

	if cfg.Enabled() {
		if err := mountComposefs(opts, cfg, resolved, &state, log); err != nil {
			return RuntimeState{}, err
		}
	} else {
		if err := opts.Mounter.BindMount(resolved, opts.StagingDir, cfg.SysrootReadonly); err != nil {
			return RuntimeState{}, err
		}
	}

	if loaderIsSymlink(resolved) {
		bootSrc := filepath.Join(resolved, "boot")
		bootDst := filepath.Join(opts.StagingDir, "boot")
		if err := opts.Mounter.BindMount(bootSrc, bootDst, false); err != nil {
			return RuntimeState{}, err
		}
	}

	etcPath, err := mountEtc(opts, cfg, resolved, &state)
	if err != nil {
		return RuntimeState{}, err
	}
	state.TransientEtcPath = etcPath

	varSrc := filepath.Join(opts.StagingDir, "..", "..", "var")
	varDst := filepath.Join(opts.StagingDir, "var")
	if err := opts.Mounter.BindMount(varSrc, varDst, false); err != nil {
		return RuntimeState{}, err
	}

	if dev, inode, err := statDeviceInode(opts.StagingDir); err == nil {
		state.BackingDevice = dev
		state.BackingInode = inode
	}

	if err := Write(opts.RuntimeStatePath, state); err != nil {
		return RuntimeState{}, err
	}

	// A soft-reboot only stages the new root at /run/nextroot and
	// records nextroot-booted; the actual switch-root happens later,
	// out of this function's scope (§4.8 step 5/10's parenthetical).
	if !opts.SoftReboot {
		if err := pivot(opts); err != nil {
			return RuntimeState{}, err
		}
	}

	log.Info("prepare-root complete", otlog.F("composefs", state.ComposefsActive), otlog.F("verity", state.VerityActive))
	return state, nil
}

func mountComposefs(opts Options, cfg Config, deployPath string, state *RuntimeState, log *otlog.Logger) error {
	imagePath := filepath.Join(deployPath, ".ostree.cfs")
	objectsDir := filepath.Join(opts.Repo.Dir, "objects")

	mountOpts := MountOptions{
		ImagePath:     imagePath,
		ObjectsDir:    objectsDir,
		Target:        opts.StagingDir,
		RequireVerity: cfg.RequiresVerity(),
		ReadOnly:      !cfg.RootTransient,
	}

	if cfg.ComposefsPolicy == ComposefsSigned {
		digest, err := expectedComposefsDigest(opts)
		if err != nil {
			return err
		}
		mountOpts.ExpectedDigest = digest
	}

	if _, err := os.Stat(imagePath); err != nil {
		if cfg.ComposefsPolicy == ComposefsMaybe {
			log.Warn("composefs image missing, falling back to bind mount", otlog.F("path", imagePath))
			return opts.Mounter.BindMount(deployPath, opts.StagingDir, cfg.SysrootReadonly)
		}
		return ostreeerr.Fatalf("prepareroot: composefs image %s missing: %v", imagePath, err)
	}

	if err := opts.Composefs.Mount(mountOpts); err != nil {
		return err
	}

	state.ComposefsActive = true
	state.VerityActive = cfg.RequiresVerity()
	if cfg.ComposefsKeyPath != "" {
		state.SigningKeyPath = cfg.ComposefsKeyPath
	}
	return nil
}

// expectedComposefsDigest implements step 6's signed-policy path: load
// the deploy commit (and fall back to its parent, the bootc base
// commit, if the deploy commit itself carries no commitmeta), verify
// any attached signature against the configured trusted keys over the
// commit's on-disk bytes, then read the composefs digest out of commit
// metadata. Property 10: a corrupt/missing digest here must return an
// error before any mount is attempted.
func expectedComposefsDigest(opts Options) (string, error) {
	sum, err := opts.Repo.ResolveRev(opts.DeployRef)
	if err != nil {
		return "", err
	}
	return resolveComposefsDigest(opts.Repo, sum, opts.TrustedKeys, opts.RevokedKeys)
}

func resolveComposefsDigest(r *repo.Repo, sum checksum.Hash, trusted, revoked [][]byte) (string, error) {
	commit, _, err := r.LoadCommit(sum)
	if err != nil {
		return "", err
	}

	meta, ok, err := r.ReadCommitMeta(sum)
	if err != nil {
		return "", err
	}
	if !ok && commit.HasParent {
		meta, ok, err = r.ReadCommitMeta(commit.Parent)
		if err != nil {
			return "", err
		}
		if ok {
			parentCommit, _, err := r.LoadCommit(commit.Parent)
			if err != nil {
				return "", err
			}
			commit = parentCommit
		}
	}
	if !ok {
		return "", ostreeerr.Fatalf("prepareroot: signed composefs policy requires commitmeta, found none on the deploy commit or its parent")
	}

	if err := verifyCommitSignature(commit, meta, trusted, revoked); err != nil {
		return "", err
	}

	digestVal := commit.Metadata[composefsDigestKey]
	if digestVal.Str == "" {
		return "", ostreeerr.Fatalf("prepareroot: signed composefs policy requires a digest, commit metadata had none")
	}
	return digestVal.Str, nil
}

func verifyCommitSignature(commit objects.Commit, meta repo.CommitMeta, trusted, revoked [][]byte) error {
	data := commit.Encode()
	revokedSet := sign.NewRevocationSet(revoked)

	backends := []struct {
		key     string
		verifier sign.Verifier
	}{
		{string(sign.BackendEd25519), ed25519verify.Verifier{}},
		{string(sign.BackendSPKI), spki.Verifier{}},
		{string(sign.BackendGPG), gpg.Verifier{}},
	}

	for _, b := range backends {
		sigs, ok := meta[b.key]
		if !ok || len(sigs) == 0 {
			continue
		}
		result, err := sign.VerifyWithPolicy(b.verifier, data, sigs, trusted, revokedSet)
		if err != nil {
			return err
		}
		if result.Valid {
			return nil
		}
	}
	return ostreeerr.SignatureInvalidf("prepareroot: no commit signature verified against the trusted keyring")
}

func mountEtc(opts Options, cfg Config, deployPath string, state *RuntimeState) (string, error) {
	etcTarget := filepath.Join(opts.StagingDir, "etc")

	if cfg.EtcTransient {
		tmpDir, err := uniqueTempDir(filepath.Join(opts.PhysicalRoot, "run", "ostree"))
		if err != nil {
			return "", err
		}
		upper := filepath.Join(tmpDir, "upper")
		work := filepath.Join(tmpDir, "work")
		if err := os.MkdirAll(upper, 0755); err != nil {
			return "", ostreeerr.Fatalf("prepareroot: mkdir %s: %v", upper, err)
		}
		if err := os.MkdirAll(work, 0755); err != nil {
			return "", ostreeerr.Fatalf("prepareroot: mkdir %s: %v", work, err)
		}
		lower := filepath.Join(opts.StagingDir, "usr", "etc")
		if err := opts.Mounter.Overlay(lower, upper, work, etcTarget); err != nil {
			return "", err
		}
		return tmpDir, nil
	}

	deployEtc := filepath.Join(deployPath, "etc")
	if err := opts.Mounter.BindMount(deployEtc, etcTarget, false); err != nil {
		return "", err
	}
	if err := opts.Mounter.Remount(etcTarget, false); err != nil {
		return "", err
	}
	return "", nil
}

func pivot(opts Options) error {
	if !opts.PidOne {
		return opts.Mounter.MoveMount(opts.StagingDir, filepath.Join(opts.PhysicalRoot, "sysroot"))
	}
	if err := opts.Mounter.Chdir(opts.StagingDir); err != nil {
		return err
	}
	if err := opts.Mounter.PivotRoot(".", "sysroot"); err != nil {
		return err
	}
	return opts.Mounter.Chroot(".")
}

func loaderIsSymlink(deployPath string) bool {
	info, err := os.Lstat(filepath.Join(deployPath, "boot", "loader"))
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}
