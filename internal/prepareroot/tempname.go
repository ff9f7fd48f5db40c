package prepareroot

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// words is the same small entropy-bearing wordlist the rest of this
// module's author uses for human-legible unique names, sized down here
// since collisions only need to be avoided within one directory per boot.
var words = []string{
	"amber", "bison", "copper", "drift", "ember", "flint", "grove", "harbor", "ivory", "juniper",
	"kestrel", "lilac", "meadow", "nectar", "onyx", "prairie", "quartz", "river", "sage", "tundra",
}

func randPhrase() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	n := binary.LittleEndian.Uint32(b[:])
	return fmt.Sprintf("%s-%s-%04d", words[n%uint32(len(words))], words[(n/7)%uint32(len(words))], n%10000)
}

// uniqueTempDir creates and returns a freshly made, collision-free
// directory under base, named with a short human-legible phrase instead
// of a raw random hex string (step 8's transient /etc overlay needs one
// such directory per boot under /run/ostree).
func uniqueTempDir(base string) (string, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", ostreeerr.Fatalf("prepareroot: mkdir %s: %v", base, err)
	}
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		candidate := filepath.Join(base, randPhrase())
		err := os.Mkdir(candidate, 0755)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", ostreeerr.Fatalf("prepareroot: mkdir %s: %v", candidate, err)
		}
	}
	return "", ostreeerr.Fatalf("prepareroot: could not allocate a unique directory under %s after %d attempts", base, maxAttempts)
}

// statDeviceInode reads the backing device and inode numbers for the
// staging mount point, recorded in runtime state so later tooling can
// confirm which physical mount is live without re-parsing /proc/mounts.
func statDeviceInode(path string) (dev, inode uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, ostreeerr.Fatalf("prepareroot: stat %s: %v", path, err)
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}
