package watcher

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemType is a coarse classification of the filesystem under a path.
// Network and FUSE mounts often drop inotify events, so the watcher polls
// there instead.
type FilesystemType int

const (
	FSTypeUnknown FilesystemType = iota
	FSTypeLocal
	FSTypeNFS
	FSTypeSMB
	FSTypeSSHFS
	FSTypeFUSE
)

func (t FilesystemType) String() string {
	switch t {
	case FSTypeLocal:
		return "local"
	case FSTypeNFS:
		return "nfs"
	case FSTypeSMB:
		return "smb"
	case FSTypeSSHFS:
		return "sshfs"
	case FSTypeFUSE:
		return "fuse"
	default:
		return "unknown"
	}
}

func isRemoteFilesystem(t FilesystemType) bool {
	switch t {
	case FSTypeNFS, FSTypeSMB, FSTypeSSHFS, FSTypeFUSE:
		return true
	}
	return false
}

// mountTable is read by DetectFilesystemType; tests swap it out.
var mountTable = "/proc/mounts"

// detectFilesystemTypeFunc lets tests force a classification.
var detectFilesystemTypeFunc = detectFromMounts

// DetectFilesystemType classifies the filesystem holding path by its longest
// matching mount point. Paths that do not exist yet are resolved through
// their nearest existing ancestor.
func DetectFilesystemType(path string) FilesystemType {
	if path == "" {
		return FSTypeUnknown
	}
	return detectFilesystemTypeFunc(path)
}

func detectFromMounts(path string) FilesystemType {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FSTypeUnknown
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			break
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return FSTypeUnknown
		}
		abs = parent
	}

	f, err := os.Open(mountTable)
	if err != nil {
		return FSTypeUnknown
	}
	defer f.Close()
	return lookupMount(abs, f)
}

// lookupMount classifies path by the longest mount point in a
// /proc/mounts-style table that contains it.
func lookupMount(path string, table io.Reader) FilesystemType {
	best, bestType := -1, ""
	sc := bufio.NewScanner(table)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		mount := fields[1]
		if !underMount(path, mount) || len(mount) <= best {
			continue
		}
		best, bestType = len(mount), fields[2]
	}
	if best < 0 {
		return FSTypeUnknown
	}
	return classify(bestType)
}

func underMount(path, mount string) bool {
	if mount == "/" {
		return true
	}
	return path == mount || strings.HasPrefix(path, mount+string(filepath.Separator))
}

func classify(fstype string) FilesystemType {
	switch {
	case strings.HasPrefix(fstype, "nfs"):
		return FSTypeNFS
	case fstype == "cifs" || fstype == "smbfs" || fstype == "smb3":
		return FSTypeSMB
	case fstype == "fuse.sshfs":
		return FSTypeSSHFS
	case strings.HasPrefix(fstype, "fuse"):
		return FSTypeFUSE
	default:
		return FSTypeLocal
	}
}
