package endpoint

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// minFreeMemory is the free RAM a 32-bit host needs before taking a connection.
const minFreeMemory = 800 << 20

func enoughMemory() bool {
	if strconv.IntSize == 64 {
		return true
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return true
	}
	return uint64(info.Freeram)*uint64(info.Unit) >= minFreeMemory
}
