//go:build !linux

package backend

// networkMount reports whether path needs the polling backend. Only Linux
// exposes a usable filesystem-type probe; elsewhere native notification is
// assumed to work.
func networkMount(string) bool {
	return false
}
