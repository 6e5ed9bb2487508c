package misc

import "strings"

// Absence markers across the shipped backends: os *PathError text from the
// file and session backends, S3 error codes and the MinIO client's message
// for missing objects.
var notFoundMarkers = []string{
	"not found",
	"does not exist",
	"no such file",
	"NoSuchKey",
	"key does not exist",
}

// IsNotFoundError reports whether err describes a missing key rather than a
// real backend failure.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, marker := range notFoundMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
