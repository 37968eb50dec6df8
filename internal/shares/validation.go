package shares

import (
	"regexp"
	"strings"
)

// maxPathLength is the spec's bound (512), superseding the original
// implementation's 1000 — see SPEC_FULL.md §C6.
const maxPathLength = 512

var docExtensions = []string{".md", ".canvas"}

var driveLetterPrefix = regexp.MustCompile(`^[A-Za-z]:`)

// ValidatePath applies the exact order of checks the original share
// service uses: emptiness, traversal, null bytes, absolute paths, drive
// letters, doc extension, then length.
func ValidatePath(path string, kind Kind) error {
	if strings.TrimSpace(path) == "" {
		return ErrInvalidPath
	}
	if strings.Contains(path, "..") {
		return ErrInvalidPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return ErrInvalidPath
	}
	if driveLetterPrefix.MatchString(path) {
		return ErrInvalidPath
	}
	if kind == KindDoc {
		lower := strings.ToLower(path)
		valid := false
		for _, ext := range docExtensions {
			if strings.HasSuffix(lower, ext) {
				valid = true
				break
			}
		}
		if !valid {
			return ErrInvalidPath
		}
	}
	if len(path) > maxPathLength {
		return ErrInvalidPath
	}
	return nil
}

// normalizeFolderPrefix appends a trailing slash for prefix matching
// without mutating the stored path (spec.md §4.5: "normalized for
// folder-prefix matching only, not stored").
func normalizeFolderPrefix(path string) string {
	trimmed := strings.Trim(path, "/")
	return trimmed + "/"
}

// isWithinFolder reports whether filePath lies strictly inside folderPath.
func isWithinFolder(folderPath, filePath string) bool {
	folder := normalizeFolderPrefix(folderPath)
	file := strings.Trim(filePath, "/")
	return strings.HasPrefix(file, folder)
}
