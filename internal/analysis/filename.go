package analysis

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// SecureFilename returns the name the backend stores an upload under. It
// follows werkzeug's secure_filename: NFKD-normalize, drop non-ASCII, turn
// whitespace and path separators into underscores, keep [A-Za-z0-9_.-], and
// strip leading/trailing dots and underscores.
func SecureFilename(name string) string {
	decomposed := norm.NFKD.String(name)

	var ascii strings.Builder
	ascii.Grow(len(decomposed))
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue
		}
		if r == '/' || r == '\\' {
			r = ' '
		}
		ascii.WriteRune(r)
	}

	joined := strings.Join(strings.Fields(ascii.String()), "_")

	var out strings.Builder
	out.Grow(len(joined))
	for _, r := range joined {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			out.WriteRune(r)
		}
	}
	return strings.Trim(out.String(), "._")
}

// HasVideoExtension reports whether name ends in an accepted video extension.
func HasVideoExtension(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, allowed := range VideoExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// VideoMIMEType guesses the content type from a file extension.
func VideoMIMEType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}

var titleCaser = cases.Title(language.English)

// DisplayName renders an enum value such as "cover_drive" as "Cover Drive".
func DisplayName(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return ""
	}
	return titleCaser.String(value)
}

func baseName(uri string) string {
	uri = strings.TrimPrefix(uri, "file://")
	return filepath.Base(uri)
}
