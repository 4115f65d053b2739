//go:build linux

package backend

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Filesystem magic numbers for mounts where inotify is unreliable or
// unsupported. From linux/magic.h.
const (
	nfsSuperMagic   = 0x6969
	smbSuperMagic   = 0x517B
	smb2SuperMagic  = 0xFE534D42
	cifsSuperMagic  = 0xFF534D42
	ncpSuperMagic   = 0x564C
	codaSuperMagic  = 0x73757245
	fuseSuperMagic  = 0x65735546
	v9fsSuperMagic  = 0x01021997
	afsSuperMagic   = 0x5346414F
	ocfs2SuperMagic = 0x7461636F
)

// networkMount reports whether path lives on a filesystem that needs the
// polling backend. The path itself may not exist yet; the probe walks up to
// the nearest existing ancestor. A failed probe counts as a network mount:
// polling always works, native notification may not.
func networkMount(path string) bool {
	probe := path
	for {
		if _, err := os.Lstat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(probe, &st); err != nil {
		return true
	}

	switch int64(st.Type) {
	case nfsSuperMagic, smbSuperMagic, smb2SuperMagic, cifsSuperMagic,
		ncpSuperMagic, codaSuperMagic, fuseSuperMagic, v9fsSuperMagic,
		afsSuperMagic, ocfs2SuperMagic:
		return true
	}
	return false
}
