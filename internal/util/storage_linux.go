//go:build linux

package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Linux VFS magic numbers of network filesystems
var networkMagic = map[uint32]string{
	0x6969:     "nfs",
	0xff534d42: "cifs",
	0x517b:     "smb",
	0xfe534d42: "smb2",
	0x564c:     "ncp",
}

func detectPlatformStorage(path string) (*StorageInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	info := &StorageInfo{}
	if proto, ok := networkMagic[uint32(st.Type)]; ok {
		info.IsNetwork = true
		info.Protocol = proto
	}

	mounts, err := parseProcMounts()
	if err != nil {
		return info, nil
	}

	best := ""
	for mountPoint, fsType := range mounts {
		if !IsWithin(mountPoint, path) || len(mountPoint) <= len(best) {
			continue
		}
		best = mountPoint
		info.MountPath = mountPoint
		if isNetworkFSType(fsType) {
			info.IsNetwork = true
			info.Protocol = strings.ToLower(fsType)
		}
	}

	return info, nil
}

func isNetworkFSType(fsType string) bool {
	t := strings.ToLower(fsType)
	for _, n := range []string{"nfs", "cifs", "smb", "ncpfs", "fuse.sshfs", "fuse.rclone"} {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}

// parseProcMounts maps mount points to filesystem types
func parseProcMounts() (map[string]string, error) {
	file, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mounts := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// device mountpoint fstype options dump pass
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts[fields[1]] = fields[2]
	}

	return mounts, scanner.Err()
}
