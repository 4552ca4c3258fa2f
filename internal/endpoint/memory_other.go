//go:build !linux

package endpoint

func enoughMemory() bool {
	return true
}
