package downloader

import (
	"encoding/json"
	"errors"

	"github.com/JakeFAU/apkfetch/internal/archive"
	"github.com/JakeFAU/apkfetch/internal/catalog"
)

// Failure reasons reported in Result.Error.
const (
	ReasonAppNotFound  = "App not found"
	ReasonLinkNotFound = "Download link not found"
	ReasonNoPackage    = "No package name provided"
)

var (
	// ErrAppNotFound means no candidate page was confirmed.
	ErrAppNotFound = errors.New(ReasonAppNotFound)
	// ErrLinkNotFound means the app page was confirmed but no pattern matched.
	ErrLinkNotFound = errors.New(ReasonLinkNotFound)
	// ErrNoPackage means the identifier was empty.
	ErrNoPackage = errors.New(ReasonNoPackage)
)

// Kind classifies a failed download.
type Kind string

// Failure kinds.
const (
	KindNone           Kind = ""
	KindNotFound       Kind = "not_found"
	KindLinkNotFound   Kind = "link_not_found"
	KindTransferFailed Kind = "transfer_failed"
	KindUnexpected     Kind = "unexpected"
	KindInvalidInput   Kind = "invalid_input"
)

// Classify maps an error returned by a pipeline stage to its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoPackage):
		return KindInvalidInput
	case errors.Is(err, ErrAppNotFound):
		return KindNotFound
	case errors.Is(err, ErrLinkNotFound):
		return KindLinkNotFound
	}
	if _, ok := archive.IsTransferError(err); ok {
		return KindTransferFailed
	}
	return KindUnexpected
}

// Result is the outcome of one download invocation. Exactly one of the
// success fields or Error is meaningful.
type Result struct {
	Success     bool
	FilePath    string
	Filename    string
	Size        int64
	PackageType catalog.PackageType
	SHA256      string
	Error       string
	Kind        Kind
}

// IsXAPK reports whether the downloaded archive is multi-part.
func (r Result) IsXAPK() bool {
	return r.PackageType.MultiPart()
}

type successJSON struct {
	Success     bool   `json:"success"`
	FilePath    string `json:"file_path"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	IsXAPK      bool   `json:"is_xapk"`
	PackageType string `json:"package_type"`
	SHA256      string `json:"sha256,omitempty"`
}

type failureJSON struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind,omitempty"`
}

// MarshalJSON emits the success record or the {error, kind} record.
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.Success {
		//nolint:wrapcheck // encoding errors surface as-is
		return json.Marshal(failureJSON{Error: r.Error, Kind: r.Kind})
	}
	//nolint:wrapcheck // encoding errors surface as-is
	return json.Marshal(successJSON{
		Success:     true,
		FilePath:    r.FilePath,
		Filename:    r.Filename,
		Size:        r.Size,
		IsXAPK:      r.IsXAPK(),
		PackageType: string(r.PackageType),
		SHA256:      r.SHA256,
	})
}

// UnmarshalJSON accepts either record shape.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw struct {
		successJSON
		failureJSON
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err //nolint:wrapcheck // decoding errors surface as-is
	}
	*r = Result{
		Success:     raw.Success,
		FilePath:    raw.FilePath,
		Filename:    raw.Filename,
		Size:        raw.Size,
		PackageType: catalog.PackageType(raw.PackageType),
		SHA256:      raw.SHA256,
		Error:       raw.Error,
		Kind:        raw.failureJSON.Kind,
	}
	return nil
}

func failure(err error) Result {
	return Result{Error: err.Error(), Kind: Classify(err)}
}

func success(a archive.Archive) Result {
	return Result{
		Success:     true,
		FilePath:    a.Path,
		Filename:    a.Filename,
		Size:        a.Size,
		PackageType: a.Type,
		SHA256:      a.SHA256,
	}
}
