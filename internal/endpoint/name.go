package endpoint

import (
	"path/filepath"
	"strconv"
)

// Name returns the endpoint name a server with the given pid listens under.
func Name(base string, pid int) string {
	return base + strconv.Itoa(pid)
}

// Path returns the socket path for Name(base, pid) inside dir.
func Path(dir, base string, pid int) string {
	return filepath.Join(dir, Name(base, pid)+".sock")
}
