package processing

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"rustler/internal/models"
)

// FileType describes an accepted upload format.
type FileType struct {
	Name         string
	Extensions   []string
	ContentTypes []string
	MagicNumbers [][]byte
	MaxSize      int64
}

// MatchesExtension reports whether filename ends in one of the type's extensions.
func (ft FileType) MatchesExtension(filename string) bool {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return false
	}
	for _, e := range ft.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// MatchesContentType compares the media type, ignoring parameters and case.
func (ft FileType) MatchesContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, ct := range ft.ContentTypes {
		if strings.EqualFold(ct, mediaType) {
			return true
		}
	}
	return false
}

// MatchesMagic reports whether data starts with one of the type's magic
// numbers. A type without magic numbers matches anything.
func (ft FileType) MatchesMagic(data []byte) bool {
	if len(ft.MagicNumbers) == 0 {
		return true
	}
	for _, magic := range ft.MagicNumbers {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	return false
}

// DefaultFileTypes are ZIP, PNG and JPEG.
func DefaultFileTypes() []FileType {
	return []FileType{
		{
			Name:         "ZIP",
			Extensions:   []string{"zip"},
			ContentTypes: []string{"application/zip"},
			MagicNumbers: [][]byte{{0x50, 0x4B, 0x03, 0x04}},
			MaxSize:      100 << 20,
		},
		{
			Name:         "PNG",
			Extensions:   []string{"png"},
			ContentTypes: []string{"image/png"},
			MagicNumbers: [][]byte{{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
			MaxSize:      10 << 20,
		},
		{
			Name:         "JPEG",
			Extensions:   []string{"jpg", "jpeg"},
			ContentTypes: []string{"image/jpeg"},
			MagicNumbers: [][]byte{
				{0xFF, 0xD8, 0xFF, 0xE0},
				{0xFF, 0xD8, 0xFF, 0xE1},
			},
			MaxSize: 10 << 20,
		},
	}
}

// Validator holds the registered file types.
type Validator struct {
	mu    sync.RWMutex
	types map[string]FileType
}

// NewValidator returns a validator with DefaultFileTypes registered.
func NewValidator() *Validator {
	v := &Validator{types: map[string]FileType{}}
	for _, ft := range DefaultFileTypes() {
		v.Register(ft)
	}
	return v
}

// Register adds or replaces a file type, keyed by name.
func (v *Validator) Register(ft FileType) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.types[strings.ToUpper(ft.Name)] = ft
}

// Types returns the registered file types sorted by name.
func (v *Validator) Types() []FileType {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]FileType, 0, len(v.types))
	for _, ft := range v.types {
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByExtension finds the file type registered for filename's extension.
func (v *Validator) ByExtension(filename string) (FileType, bool) {
	for _, ft := range v.Types() {
		if ft.MatchesExtension(filename) {
			return ft, true
		}
	}
	return FileType{}, false
}

// Detect finds a file type by magic number alone. Types without magic
// numbers are never detected.
func (v *Validator) Detect(data []byte) (FileType, bool) {
	for _, ft := range v.Types() {
		if len(ft.MagicNumbers) > 0 && ft.MatchesMagic(data) {
			return ft, true
		}
	}
	return FileType{}, false
}

// CheckUpload validates the declared name, content type and size of an
// upload against the registered types.
func (v *Validator) CheckUpload(filename, contentType string, size int64) (FileType, error) {
	ft, ok := v.ByExtension(filename)
	if !ok {
		return FileType{}, fmt.Errorf("%w: extension of %q is not accepted", models.ErrUnsupportedType, filename)
	}
	if !ft.MatchesContentType(contentType) {
		return FileType{}, fmt.Errorf("%w: content type %q is not allowed for %s (allowed: %s)",
			models.ErrUnsupportedType, contentType, ft.Name, strings.Join(ft.ContentTypes, ", "))
	}
	if ft.MaxSize > 0 && size > ft.MaxSize {
		return FileType{}, fmt.Errorf("%w: %s files are limited to %d bytes", models.ErrFileTooLarge, ft.Name, ft.MaxSize)
	}
	return ft, nil
}
