//go:build !unix

package collector

import "os"

func isReadable(path string) bool {
	f, err := os.Open(path) //nolint:gosec // probing collected paths
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
