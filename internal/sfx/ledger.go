// SPDX-License-Identifier: MPL-2.0

package sfx

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LedgerFileName is the checksum ledger's file name inside the dist directory.
const LedgerFileName = "checksums.txt"

// errNoValidEntries indicates the checksums file contained no parseable entries.
var errNoValidEntries = errors.New("no valid checksum entries found")

type (
	// ChecksumEntry represents a SHA256 checksum for a produced executable.
	ChecksumEntry struct {
		Hash     string // Hex-encoded SHA256 hash (64 characters)
		Filename string // Executable filename this hash applies to
	}

	// Ledger appends sha256sum-format lines to checksums.txt. It is safe for
	// concurrent use; each line is written with a single Write call.
	Ledger struct {
		mu   sync.Mutex
		f    *os.File
		path string
	}
)

// OpenLedger opens (creating if needed) <distDir>/checksums.txt for appending.
// Existing lines are kept.
func OpenLedger(distDir string) (*Ledger, error) {
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dist directory: %w", err)
	}
	path := filepath.Join(distDir, LedgerFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening checksum ledger: %w", err)
	}
	return &Ledger{f: f, path: path}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append records "<hash>  <filename>\n".
func (l *Ledger) Append(hash, filename string) error {
	line := hash + "  " + filename + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := io.WriteString(l.f, line); err != nil {
		return fmt.Errorf("appending to checksum ledger: %w", err)
	}
	return nil
}

// Close closes the ledger file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ParseChecksums parses a checksums.txt file in the standard sha256sum output format.
// Each line is expected to be "{sha256_hex}  {filename}" (two spaces between hash
// and filename). Empty lines and lines that don't match the expected format are
// silently skipped. Returns an error if no valid entries are found.
func ParseChecksums(r io.Reader) ([]ChecksumEntry, error) {
	var entries []ChecksumEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		hash, filename, ok := strings.Cut(line, "  ")
		filename = strings.TrimSpace(filename)
		if !ok || filename == "" || !isValidHexHash(hash) {
			continue
		}

		entries = append(entries, ChecksumEntry{
			Hash:     strings.ToLower(hash),
			Filename: filename,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}

	if len(entries) == 0 {
		return nil, errNoValidEntries
	}

	return entries, nil
}

// ComputeFileHash computes and returns the lowercase hex-encoded SHA256 digest
// of the file at path, streaming the file through the hash function.
func ComputeFileHash(path string) (_ string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		// Read-only file handle; close errors are exotic (NFS edge cases).
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// isValidHexHash checks if s is a valid 64-character hex-encoded SHA256 hash.
func isValidHexHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
