// Package prepareroot implements §4.8's deployment prepare-root: the
// early-boot step that selects a deployment, mounts its composefs image
// (or a plain bind mount), overlays /etc, bind-mounts /var, and pivots
// into the new root. Grounded on the teacher's CLI flag-parsing style
// (cli/cli.go, flat string-slice scanning) generalized from command
// arguments to /proc/cmdline tokens.
package prepareroot

import (
	"strings"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// SelectDeployPath implements step 1's precedence rule over a raw
// /proc/cmdline string: androidboot.slot_suffix=_a|_b selects
// /ostree/root.a or /ostree/root.b; any other androidboot.* token
// implies slot A; otherwise ostree=<path> is used directly. Absence of
// all three is fatal.
func SelectDeployPath(cmdline string) (string, error) {
	tokens := strings.Fields(cmdline)

	var ostreeArg string
	var sawAndroidboot bool
	for _, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, "androidboot.slot_suffix="):
			suffix := strings.TrimPrefix(tok, "androidboot.slot_suffix=")
			switch suffix {
			case "_a":
				return "/ostree/root.a", nil
			case "_b":
				return "/ostree/root.b", nil
			default:
				return "", ostreeerr.Fatalf("prepareroot: unrecognized androidboot.slot_suffix value %q", suffix)
			}
		case strings.HasPrefix(tok, "androidboot."):
			sawAndroidboot = true
		case strings.HasPrefix(tok, "ostree="):
			ostreeArg = strings.TrimPrefix(tok, "ostree=")
		}
	}

	if sawAndroidboot {
		return "/ostree/root.a", nil
	}
	if ostreeArg != "" {
		return ostreeArg, nil
	}
	return "", ostreeerr.Fatalf("prepareroot: no ostree= or androidboot.* token found on kernel cmdline")
}
