// Command ostree-prepare-root runs the early-boot deployment activation
// sequence (§4.8): selects a deployment from the kernel command line,
// mounts it (optionally through composefs), sets up /etc and /var, and
// pivots into the new root. Intended to run as PID 1 under an
// initramfs, or as an ordinary program during a soft-reboot.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ostree-go/ostree/internal/otlog"
	"github.com/ostree-go/ostree/internal/prepareroot"
	"github.com/ostree-go/ostree/internal/repo"
)

func main() {
	softReboot := flag.Bool("soft-reboot", false, "stage at /run/nextroot and skip pivot_root")
	flag.Parse()

	log := otlog.New(os.Stderr, "ostree-prepare-root")

	physicalRoot := "/sysroot"
	if os.Getpid() == 1 {
		physicalRoot = "/"
	}

	r, err := repo.Open(physicalRoot + "/ostree/repo")
	if err != nil {
		log.Error("open repository", otlog.F("error", err.Error()))
		os.Exit(1)
	}
	defer r.Close()

	cmdline, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		log.Error("read /proc/cmdline", otlog.F("error", err.Error()))
		os.Exit(1)
	}

	stagingDir := physicalRoot + "/sysroot.tmp"
	runtimeStatePath := "/run/ostree-booted"
	if *softReboot {
		stagingDir = "/run/nextroot"
		runtimeStatePath = "/run/ostree/nextroot-booted"
	}

	opts := prepareroot.Options{
		Cmdline:          string(cmdline),
		ConfLibPath:      physicalRoot + "/usr/lib/ostree/prepare-root.conf",
		ConfEtcPath:      physicalRoot + "/etc/ostree/prepare-root.conf",
		PhysicalRoot:     physicalRoot,
		StagingDir:       stagingDir,
		RuntimeStatePath: runtimeStatePath,
		PidOne:           os.Getpid() == 1 && !*softReboot,
		SoftReboot:       *softReboot,
		Repo:             r,
		Mounter:          prepareroot.UnixMounter{},
		Composefs:        prepareroot.NewLcfsMounter(),
	}

	state, err := prepareroot.Run(opts)
	if err != nil {
		log.Error("prepare-root failed", otlog.F("error", err.Error()))
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "prepare-root: composefs=%v verity=%v\n", state.ComposefsActive, state.VerityActive)
}
