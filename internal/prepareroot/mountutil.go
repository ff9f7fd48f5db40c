package prepareroot

import (
	"golang.org/x/sys/unix"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// Mounter abstracts the mount-table operations step 4/7/8/9/11 perform,
// so the orchestration in prepareroot.go can be driven by a fake in
// tests instead of requiring CAP_SYS_ADMIN and a real mount namespace.
type Mounter interface {
	MakeRPrivate(target string) error
	BindMount(source, target string, readonly bool) error
	Overlay(lower, upper, work, target string) error
	MoveMount(source, target string) error
	PivotRoot(newRoot, putOld string) error
	Chroot(path string) error
	Chdir(path string) error
	Remount(target string, readonly bool) error
}

// UnixMounter implements Mounter with real golang.org/x/sys/unix calls,
// the same package the rest of this module uses for every raw syscall
// (checksum's xattr reads, repo's flock).
type UnixMounter struct{}

func (UnixMounter) MakeRPrivate(target string) error {
	if err := unix.Mount("", target, "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return ostreeerr.Fatalf("prepareroot: make-rprivate %s: %v", target, err)
	}
	return nil
}

func (UnixMounter) BindMount(source, target string, readonly bool) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return ostreeerr.Fatalf("prepareroot: bind mount %s -> %s: %v", source, target, err)
	}
	if readonly {
		flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
		if err := unix.Mount(source, target, "", flags, ""); err != nil {
			return ostreeerr.Fatalf("prepareroot: remount readonly %s: %v", target, err)
		}
	}
	return nil
}

func (UnixMounter) Overlay(lower, upper, work, target string) error {
	opts := "lowerdir=" + lower + ",upperdir=" + upper + ",workdir=" + work
	if err := unix.Mount("overlay", target, "overlay", 0, opts); err != nil {
		return ostreeerr.Fatalf("prepareroot: overlay mount at %s: %v", target, err)
	}
	return nil
}

func (UnixMounter) MoveMount(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_MOVE, ""); err != nil {
		return ostreeerr.Fatalf("prepareroot: move mount %s -> %s: %v", source, target, err)
	}
	return nil
}

func (UnixMounter) PivotRoot(newRoot, putOld string) error {
	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return ostreeerr.Fatalf("prepareroot: pivot_root: %v", err)
	}
	return nil
}

func (UnixMounter) Chroot(path string) error {
	if err := unix.Chroot(path); err != nil {
		return ostreeerr.Fatalf("prepareroot: chroot %s: %v", path, err)
	}
	return nil
}

func (UnixMounter) Chdir(path string) error {
	if err := unix.Chdir(path); err != nil {
		return ostreeerr.Fatalf("prepareroot: chdir %s: %v", path, err)
	}
	return nil
}

func (UnixMounter) Remount(target string, readonly bool) error {
	flags := uintptr(unix.MS_REMOUNT | unix.MS_BIND)
	if readonly {
		flags |= unix.MS_RDONLY
	}
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		return ostreeerr.Fatalf("prepareroot: remount %s: %v", target, err)
	}
	return nil
}
