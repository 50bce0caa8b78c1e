// Package naming derives deterministic object-storage keys for job results.
// Keys are pure functions of their inputs, so rerunning a job with the same id
// overwrites its previous output instead of duplicating it.
package naming

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_\-.]+`)

// SafeStem strips the extension from a filename and reduces it to a storage-safe
// stem: whitespace becomes underscores, anything outside [A-Za-z0-9_.-] becomes
// an underscore, and leading/trailing "._-" are trimmed. An empty result
// defaults to "image".
func SafeStem(filename string) string {
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	stem = strings.ReplaceAll(strings.TrimSpace(stem), " ", "_")
	stem = unsafeChars.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "._-")
	if stem == "" {
		return "image"
	}
	return stem
}

// SingleKey builds the result key for a single-image job. When no filename was
// supplied, the stem falls back to "image_" plus the first 8 characters of the
// job id.
func SingleKey(jobID, filename, ext string) string {
	var stem string
	if filename != "" {
		stem = SafeStem(filename)
	} else {
		short := jobID
		if len(short) > 8 {
			short = short[:8]
		}
		stem = "image_" + short
	}
	return fmt.Sprintf("results/%s/%s_modified.%s", jobID, stem, ext)
}

// BatchKey builds the output key for one object of a batch job, deriving the
// stem from the basename of the input key.
func BatchKey(outputPrefix, jobID, inputKey, ext string) string {
	stem := SafeStem(path.Base(inputKey))
	return fmt.Sprintf("%s/%s/%s_modified.%s", outputPrefix, jobID, stem, ext)
}
