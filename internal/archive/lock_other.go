//go:build !windows

package archive

func isSharingViolation(error) bool {
	return false
}
