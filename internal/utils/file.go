package utils

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// FileHash calculates the SHA-256 hash of a file
func FileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// CopyFile copies a file from src to dst, creating parent directories as needed.
// Returns the number of bytes copied.
func CopyFile(src, dst string) (int64, error) {
	if err := EnsureParent(dst); err != nil {
		return 0, err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer dstFile.Close()

	return io.Copy(dstFile, srcFile)
}

// IsHiddenEntry reports whether a directory entry is a hidden or OS junk file
// that an import should never pick up.
func IsHiddenEntry(name string) bool {
	if name == "" {
		return true
	}
	if name[0] == '.' {
		return true
	}
	switch name {
	case "Thumbs.db", "desktop.ini", "$RECYCLE.BIN", "System Volume Information":
		return true
	}
	return false
}
