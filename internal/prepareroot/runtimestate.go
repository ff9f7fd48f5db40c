package prepareroot

import (
	"os"

	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/variant"
)

// RuntimeState is the typed form of step 10's metadata dictionary,
// written to /run/ostree-booted (or the nextroot path for soft-reboot).
// Kept as a concrete struct rather than passing a variant.Map around
// the orchestration code directly, per Design Notes item 3's "single
// typed state dictionary, not scattered flags".
type RuntimeState struct {
	ComposefsActive bool
	VerityActive    bool
	SigningKeyPath  string // optional, empty if unset
	RootTransient   bool
	RootTransientRO bool
	SysrootReadonly bool
	BackingDevice   uint64
	BackingInode    uint64
	TransientEtcPath string // optional, empty if unset
}

const (
	keyComposefsActive = "composefs-active"
	keyVerityActive    = "verity-active"
	keySigningKeyPath  = "signing-key-path"
	keyRootTransient   = "root-transient"
	keyRootTransientRO = "root-transient-ro"
	keySysrootReadonly = "sysroot-readonly"
	keyBackingDevice   = "backing-device"
	keyBackingInode    = "backing-inode"
	keyTransientEtc    = "transient-etc-path"
)

// Encode renders the state as the module's deterministic a{sv}-shaped
// binary encoding (internal/variant).
func (s RuntimeState) Encode() []byte {
	m := variant.Map{
		keyComposefsActive: variant.Bool(s.ComposefsActive),
		keyVerityActive:    variant.Bool(s.VerityActive),
		keyRootTransient:   variant.Bool(s.RootTransient),
		keyRootTransientRO: variant.Bool(s.RootTransientRO),
		keySysrootReadonly: variant.Bool(s.SysrootReadonly),
		keyBackingDevice:   variant.Uint64(s.BackingDevice),
		keyBackingInode:    variant.Uint64(s.BackingInode),
	}
	if s.SigningKeyPath != "" {
		m[keySigningKeyPath] = variant.String(s.SigningKeyPath)
	}
	if s.TransientEtcPath != "" {
		m[keyTransientEtc] = variant.String(s.TransientEtcPath)
	}
	return m.Encode()
}

// DecodeRuntimeState reverses Encode, used by tests and by diagnostic
// tooling that reads back /run/ostree-booted.
func DecodeRuntimeState(b []byte) (RuntimeState, error) {
	m, err := variant.Decode(b)
	if err != nil {
		return RuntimeState{}, err
	}
	var s RuntimeState
	s.ComposefsActive = m[keyComposefsActive].Bool
	s.VerityActive = m[keyVerityActive].Bool
	s.RootTransient = m[keyRootTransient].Bool
	s.RootTransientRO = m[keyRootTransientRO].Bool
	s.SysrootReadonly = m[keySysrootReadonly].Bool
	s.BackingDevice = m[keyBackingDevice].U64
	s.BackingInode = m[keyBackingInode].U64
	if v, ok := m[keySigningKeyPath]; ok {
		s.SigningKeyPath = v.Str
	}
	if v, ok := m[keyTransientEtc]; ok {
		s.TransientEtcPath = v.Str
	}
	return s, nil
}

// Write serializes and writes the state to path (step 10). A prior
// failure anywhere in the mount sequence must never call this, so that
// a half-initialized root never looks "booted" to later readers of the
// file (§4.8's "all failures are fatal and must not silently continue").
func Write(path string, s RuntimeState) error {
	if err := os.WriteFile(path, s.Encode(), 0644); err != nil {
		return ostreeerr.IOf("prepareroot: write runtime state %s: %w", path, err)
	}
	return nil
}
