// Package imaging validates untrusted image uploads and derives the
// normalized JPEG renditions stored for profile pictures.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// Rejection codes reported in ValidationError.Code.
const (
	CodeEmptyFile            = "empty_file"
	CodeFileTooLarge         = "file_too_large"
	CodeUnsupportedExtension = "unsupported_extension"
	CodeUnsupportedFormat    = "unsupported_format"
	CodeUndecodableImage     = "undecodable_image"
	CodeImageTooSmall        = "image_too_small"
	CodeImageTooLarge        = "image_too_large"
)

// supportedFormats maps sniffed MIME types to the decoder format name
// image.Decode reports for them.
var supportedFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// ValidationError describes why an upload was rejected. Message is safe to
// show to clients.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Policy bounds accepted uploads.
type Policy struct {
	MaxBytes     int64
	MinDimension int
	MaxDimension int
}

// DefaultPolicy is 5 MiB and 50..5000 px on each side.
func DefaultPolicy() Policy {
	return Policy{MaxBytes: 5 << 20, MinDimension: 50, MaxDimension: 5000}
}

// Result is the outcome of Validate. Image is the decoded source when the
// upload was accepted.
type Result struct {
	Accepted bool
	Code     string
	Reason   string
	Width    int
	Height   int
	Format   string
	Image    image.Image
}

// Err returns a *ValidationError for a rejected result and nil otherwise.
func (r Result) Err() error {
	if r.Accepted {
		return nil
	}
	return &ValidationError{Code: r.Code, Message: r.Reason}
}

// Validator inspects upload content against a Policy.
type Validator struct {
	policy Policy
}

// NewValidator creates a Validator. Zero policy fields fall back to DefaultPolicy.
func NewValidator(p Policy) *Validator {
	def := DefaultPolicy()
	if p.MaxBytes <= 0 {
		p.MaxBytes = def.MaxBytes
	}
	if p.MinDimension <= 0 {
		p.MinDimension = def.MinDimension
	}
	if p.MaxDimension <= 0 {
		p.MaxDimension = def.MaxDimension
	}
	return &Validator{policy: p}
}

// Policy returns the active policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate checks data from cheapest to most expensive: byte size, declared
// extension and sniffed MIME type, header dimensions, then a full decode.
// filename is the client-declared name and may be empty.
func (v *Validator) Validate(data []byte, filename string) Result {
	if len(data) == 0 {
		return reject(CodeEmptyFile, "uploaded file is empty")
	}
	if int64(len(data)) > v.policy.MaxBytes {
		return reject(CodeFileTooLarge, fmt.Sprintf("file exceeds the %s size limit", HumanBytes(v.policy.MaxBytes)))
	}

	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && !supportedExtensions[ext] {
		return reject(CodeUnsupportedExtension, fmt.Sprintf("file extension %q is not allowed", ext))
	}

	mt := mimetype.Detect(data)
	format, ok := supportedFormats[baseMIME(mt.String())]
	if !ok {
		return reject(CodeUnsupportedFormat, "file content is not a supported image (jpeg, png, gif, webp)")
	}

	cfg, decodedFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || decodedFormat != format {
		return reject(CodeUndecodableImage, "file content could not be decoded as an image")
	}
	if cfg.Width < v.policy.MinDimension || cfg.Height < v.policy.MinDimension {
		return rejectSized(CodeImageTooSmall,
			fmt.Sprintf("image is %dx%d px; minimum is %dx%d px", cfg.Width, cfg.Height, v.policy.MinDimension, v.policy.MinDimension),
			cfg, format)
	}
	if cfg.Width > v.policy.MaxDimension || cfg.Height > v.policy.MaxDimension {
		return rejectSized(CodeImageTooLarge,
			fmt.Sprintf("image is %dx%d px; maximum is %dx%d px", cfg.Width, cfg.Height, v.policy.MaxDimension, v.policy.MaxDimension),
			cfg, format)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return rejectSized(CodeUndecodableImage, "file content could not be decoded as an image", cfg, format)
	}

	return Result{
		Accepted: true,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		Image:    img,
	}
}

func reject(code, reason string) Result {
	return Result{Code: code, Reason: reason}
}

func rejectSized(code, reason string, cfg image.Config, format string) Result {
	return Result{Code: code, Reason: reason, Width: cfg.Width, Height: cfg.Height, Format: format}
}

func baseMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.ToLower(s))
}

// HumanBytes formats a byte limit in the largest whole binary unit.
func HumanBytes(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KiB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
