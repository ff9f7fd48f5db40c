package prepareroot

import (
	"github.com/ostree-go/ostree/internal/config"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// ComposefsPolicy is the enumerated [composefs] enabled value.
type ComposefsPolicy string

const (
	ComposefsNo     ComposefsPolicy = "no"
	ComposefsYes    ComposefsPolicy = "yes"
	ComposefsMaybe  ComposefsPolicy = "maybe"
	ComposefsSigned ComposefsPolicy = "signed"
	ComposefsVerity ComposefsPolicy = "verity"
)

// Config is the recognized subset of prepare-root.conf (§4.8 step 2).
// Unknown keys are ignored by the underlying config.File parser; an
// enumerated field's unrecognized value is fatal, per §6.
type Config struct {
	SysrootReadonly bool
	RootTransient   bool
	RootTransientRO bool
	EtcTransient    bool
	ComposefsPolicy ComposefsPolicy
	ComposefsKeyPath string
}

// LoadConfig reads /usr/lib/ostree/prepare-root.conf overlaid by
// /etc/ostree/prepare-root.conf (either may be absent) and parses the
// recognized keys.
func LoadConfig(libPath, etcPath string) (Config, error) {
	base, err := config.ParseFile(libPath)
	if err != nil {
		return Config{}, err
	}
	overlay, err := config.ParseFile(etcPath)
	if err != nil {
		return Config{}, err
	}
	base.Overlay(overlay)
	return parseConfig(base)
}

func parseConfig(f *config.File) (Config, error) {
	var c Config
	var err error

	sysroot := f.Section("sysroot")
	if c.SysrootReadonly, err = sysroot.GetBool("readonly", false); err != nil {
		return Config{}, err
	}

	root := f.Section("root")
	if c.RootTransient, err = root.GetBool("transient", false); err != nil {
		return Config{}, err
	}
	if c.RootTransientRO, err = root.GetBool("transient-ro", false); err != nil {
		return Config{}, err
	}
	if c.RootTransient && c.RootTransientRO {
		return Config{}, ostreeerr.Policyf("prepareroot: [root] transient and transient-ro are mutually exclusive")
	}

	etc := f.Section("etc")
	if c.EtcTransient, err = etc.GetBool("transient", false); err != nil {
		return Config{}, err
	}

	cfs := f.Section("composefs")
	enabled := cfs.GetString("enabled", "no")
	switch ComposefsPolicy(enabled) {
	case ComposefsNo, ComposefsYes, ComposefsMaybe, ComposefsSigned, ComposefsVerity:
		c.ComposefsPolicy = ComposefsPolicy(enabled)
	default:
		return Config{}, ostreeerr.InvalidFormatf("prepareroot: [composefs] enabled: unrecognized value %q", enabled)
	}
	c.ComposefsKeyPath = cfs.GetString("keypath", "")

	return c, nil
}

// RequiresVerity reports whether the configured policy demands an
// fsverity-backed composefs mount.
func (c Config) RequiresVerity() bool {
	return c.ComposefsPolicy == ComposefsVerity || c.ComposefsPolicy == ComposefsSigned
}

// Enabled reports whether composefs should be attempted at all.
func (c Config) Enabled() bool {
	return c.ComposefsPolicy != ComposefsNo
}
