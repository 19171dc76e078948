package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

// raw camera formats are not in the platform mime db
var rawImageTypes = map[string]string{
	".cr2": "image/x-canon-cr2",
	".cr3": "image/x-canon-cr3",
	".nef": "image/x-nikon-nef",
	".arw": "image/x-sony-arw",
	".raf": "image/x-fuji-raf",
	".orf": "image/x-olympus-orf",
	".rw2": "image/x-panasonic-rw2",
	".dng": "image/x-adobe-dng",
}

// DetectContentType guesses a MIME type from the file extension.
func DetectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := rawImageTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
