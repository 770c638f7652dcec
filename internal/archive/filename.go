package archive

import (
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/apkfetch/internal/catalog"
)

// filenameParam finds the parameter on the raw header so byte offsets stay
// valid for non-ASCII and malformed input.
var filenameParam = regexp.MustCompile(`(?i)filename=`)

// FilenameFor picks the local filename for an archive: the server-provided
// Content-Disposition name when present, else {pkg}{ext}. The result always
// carries an extension matching t.
func FilenameFor(contentDisposition, pkg string, t catalog.PackageType) string {
	name, ok := FilenameFromDisposition(contentDisposition)
	if !ok {
		if name, ok = cleanName(pkg + t.Extension()); !ok {
			name = "download" + t.Extension()
		}
	}
	return FixExtension(name, t)
}

// FilenameFromDisposition extracts the filename parameter of a
// Content-Disposition header. Headers that do not parse as RFC 6266 fall back
// to a lenient split on "filename=". Directory components are dropped.
func FilenameFromDisposition(header string) (string, bool) {
	if !strings.Contains(strings.ToLower(header), "filename") {
		return "", false
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name, ok := cleanName(params["filename"]); ok {
			return name, true
		}
	}
	loc := filenameParam.FindStringIndex(header)
	if loc == nil {
		return "", false
	}
	raw := header[loc[1]:]
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return cleanName(strings.Trim(strings.TrimSpace(raw), `"'`))
}

// FixExtension rewrites name so its extension matches t: .xapk or .apks for
// multi-part archives, .apk otherwise. Already-correct names are returned
// unchanged, so the operation is idempotent.
func FixExtension(name string, t catalog.PackageType) string {
	lower := strings.ToLower(name)
	if t.MultiPart() {
		if strings.HasSuffix(lower, ".xapk") || strings.HasSuffix(lower, ".apks") {
			return name
		}
		return trimExt(name) + ".xapk"
	}
	if strings.HasSuffix(lower, ".apk") {
		return name
	}
	return trimExt(name) + ".apk"
}

func trimExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

func cleanName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch name {
	case ".", "..", "/":
		return "", false
	}
	return name, true
}
