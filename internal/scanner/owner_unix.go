//go:build !windows

package scanner

import (
	"os"
	"os/user"
	"strconv"
	"sync"
	"syscall"
)

var (
	ownerCacheMu sync.Mutex
	ownerCache   = map[uint32]string{}
	groupCache   = map[uint32]string{}
)

// ownership resolves the owner and group names for a stat result. The
// names are informative only, so lookup failures fall back to numeric ids.
func ownership(info os.FileInfo) (string, string) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", ""
	}
	return ownerName(uint32(st.Uid)), groupName(uint32(st.Gid))
}

func ownerName(uid uint32) string {
	ownerCacheMu.Lock()
	defer ownerCacheMu.Unlock()
	if name, ok := ownerCache[uid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	ownerCache[uid] = name
	return name
}

func groupName(gid uint32) string {
	ownerCacheMu.Lock()
	defer ownerCacheMu.Unlock()
	if name, ok := groupCache[gid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(name); err == nil {
		name = g.Name
	}
	groupCache[gid] = name
	return name
}
