package prepareroot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/mtree"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/repo"
	"github.com/ostree-go/ostree/internal/variant"
)

func TestSelectDeployPathOstreeArg(t *testing.T) {
	got, err := SelectDeployPath("root=/dev/sda1 ostree=/ostree/deploy/os/deploy/abc.0 quiet")
	if err != nil {
		t.Fatalf("SelectDeployPath: %v", err)
	}
	if got != "/ostree/deploy/os/deploy/abc.0" {
		t.Fatalf("got %q", got)
	}
}

func TestSelectDeployPathAndroidbootSlot(t *testing.T) {
	got, err := SelectDeployPath("androidboot.slot_suffix=_b")
	if err != nil {
		t.Fatalf("SelectDeployPath: %v", err)
	}
	if got != "/ostree/root.b" {
		t.Fatalf("got %q", got)
	}
}

func TestSelectDeployPathUnrecognizedSlotIsFatal(t *testing.T) {
	if _, err := SelectDeployPath("androidboot.slot_suffix=_c"); err == nil {
		t.Fatal("expected error for unrecognized slot suffix")
	}
}

// fakeMounter records every call instead of touching the real mount
// table, so Run's orchestration order can be exercised without root.
type fakeMounter struct {
	calls []string
	failOn string
}

func (f *fakeMounter) record(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return os.ErrInvalid
	}
	return nil
}

func (f *fakeMounter) MakeRPrivate(target string) error { return f.record("rprivate:" + target) }
func (f *fakeMounter) BindMount(source, target string, readonly bool) error {
	return f.record("bind:" + source + "->" + target)
}
func (f *fakeMounter) Overlay(lower, upper, work, target string) error {
	return f.record("overlay:" + target)
}
func (f *fakeMounter) MoveMount(source, target string) error { return f.record("move:" + source + "->" + target) }
func (f *fakeMounter) PivotRoot(newRoot, putOld string) error { return f.record("pivot") }
func (f *fakeMounter) Chroot(path string) error               { return f.record("chroot") }
func (f *fakeMounter) Chdir(path string) error                { return f.record("chdir") }
func (f *fakeMounter) Remount(target string, readonly bool) error { return f.record("remount:" + target) }

type fakeComposefs struct {
	mounted  bool
	wantErr  error
	lastOpts MountOptions
}

func (f *fakeComposefs) Mount(opts MountOptions) error {
	f.lastOpts = opts
	if f.wantErr != nil {
		return f.wantErr
	}
	f.mounted = true
	return nil
}

func setupDeployTree(t *testing.T) (physicalRoot, deployRelPath string) {
	t.Helper()
	physicalRoot = t.TempDir()
	deployRelPath = "/ostree/deploy/os/deploy/abc.0"
	full := filepath.Join(physicalRoot, deployRelPath)
	if err := os.MkdirAll(filepath.Join(full, "etc"), 0755); err != nil {
		t.Fatalf("mkdir deploy etc: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(full, "usr", "etc"), 0755); err != nil {
		t.Fatalf("mkdir deploy usr/etc: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(physicalRoot, "var"), 0755); err != nil {
		t.Fatalf("mkdir var: %v", err)
	}
	return physicalRoot, deployRelPath
}

func buildCommit(t *testing.T, r *repo.Repo) checksum.Hash {
	t.Helper()
	rootMeta, err := r.WriteDirMeta(objects.DirMeta{Uid: 0, Gid: 0, Mode: 040755})
	if err != nil {
		t.Fatalf("WriteDirMeta: %v", err)
	}
	root := mtree.New()
	root.SetMetaChecksum(rootMeta)
	treeSum, metaSum, err := r.SerializeTree(root)
	if err != nil {
		t.Fatalf("SerializeTree: %v", err)
	}
	commitSum, err := r.AssembleCommit(treeSum, metaSum, checksum.Hash{}, false, "deploy", "", variant.Map{}, 1700000000)
	if err != nil {
		t.Fatalf("AssembleCommit: %v", err)
	}
	return commitSum
}

func baseOptions(t *testing.T, physicalRoot, deployRelPath string, mounter *fakeMounter, cfs *fakeComposefs) Options {
	t.Helper()
	r, err := repo.Init(t.TempDir(), repo.ModeBare)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	libConf := filepath.Join(t.TempDir(), "prepare-root.conf")
	etcConf := filepath.Join(t.TempDir(), "prepare-root.conf")

	return Options{
		Cmdline:          "ostree=" + deployRelPath,
		ConfLibPath:      libConf,
		ConfEtcPath:      etcConf,
		PhysicalRoot:     physicalRoot,
		StagingDir:       filepath.Join(physicalRoot, "sysroot.tmp"),
		RuntimeStatePath: filepath.Join(physicalRoot, "ostree-booted"),
		PidOne:           false,
		Repo:             r,
		Mounter:          mounter,
		Composefs:        cfs,
	}
}

func TestRunBindMountPath(t *testing.T) {
	physicalRoot, deployRelPath := setupDeployTree(t)
	mounter := &fakeMounter{}
	cfs := &fakeComposefs{}
	opts := baseOptions(t, physicalRoot, deployRelPath, mounter, cfs)

	state, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.ComposefsActive {
		t.Fatal("composefs should not be active when disabled in config")
	}
	if _, err := os.Stat(opts.RuntimeStatePath); err != nil {
		t.Fatalf("expected runtime state file written: %v", err)
	}
	found := false
	for _, c := range mounter.calls {
		if c == "move:"+opts.StagingDir+"->"+filepath.Join(physicalRoot, "sysroot") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a pivot/move call in the non-PID-1 path")
	}
}

func TestRunSoftRebootSkipsPivot(t *testing.T) {
	physicalRoot, deployRelPath := setupDeployTree(t)
	mounter := &fakeMounter{}
	cfs := &fakeComposefs{}
	opts := baseOptions(t, physicalRoot, deployRelPath, mounter, cfs)
	opts.SoftReboot = true
	opts.PidOne = true

	if _, err := Run(opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range mounter.calls {
		if c == "pivot" || c == "chroot" {
			t.Fatalf("soft-reboot must not pivot/chroot, got call %q", c)
		}
	}
}

func TestRunSignedComposefsMissingDigestRefusesMount(t *testing.T) {
	physicalRoot, deployRelPath := setupDeployTree(t)
	full := filepath.Join(physicalRoot, deployRelPath)
	if err := os.WriteFile(filepath.Join(full, ".ostree.cfs"), []byte("fake image"), 0644); err != nil {
		t.Fatalf("write fake image: %v", err)
	}

	mounter := &fakeMounter{}
	cfs := &fakeComposefs{}
	opts := baseOptions(t, physicalRoot, deployRelPath, mounter, cfs)

	sum := buildCommit(t, opts.Repo)
	opts.DeployRef = sum.String()

	confBody := "[composefs]\nenabled=signed\n"
	if err := os.WriteFile(opts.ConfLibPath, []byte(confBody), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	_, err := Run(opts)
	if err == nil {
		t.Fatal("expected signed composefs policy with no commitmeta digest to refuse the mount")
	}
	if cfs.mounted {
		t.Fatal("composefs mount must not have been attempted")
	}
	if _, statErr := os.Stat(opts.RuntimeStatePath); statErr == nil {
		t.Fatal("runtime state must not be written when prepare-root fails")
	}
}
