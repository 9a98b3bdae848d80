// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus accumulates fetched MEDLINE text into one compressed
// archive. The archive is a zip file holding a single deflated text member;
// every merge appends to that member's text and rewrites the archive whole.
//
// A merge never touches the live archive until a complete replacement has
// been written to a temporary file beside it and verified. The replacement
// is then renamed over the original. A Store serializes its own merges;
// separate processes must not merge into the same archive concurrently.
package corpus

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pdiddy/medline-harvest/pkg/types"
)

// Separator joins successive merges in the corpus text.
const Separator = "\n\n"

// ErrVerify marks an archive that failed integrity verification.
var ErrVerify = errors.New("corpus archive failed verification")

// MergeResult describes one merge.
type MergeResult struct {
	// Created is true when the merge created the archive.
	Created bool

	// Before and After are the corpus text sizes in bytes.
	Before int
	After  int
}

// Store is a corpus archive at a fixed path.
type Store struct {
	mu     sync.Mutex
	path   string
	member string
}

// Open returns the Store described by cfg, creating its directory.
// The archive itself is created by the first Merge.
func Open(cfg types.CorpusConfig) (*Store, error) {
	def := types.DefaultPipelineConfig().Corpus
	if cfg.Archive == "" {
		cfg.Archive = def.Archive
	}
	if cfg.Member == "" {
		cfg.Member = def.Member
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating corpus directory: %w", err)
		}
	}
	return &Store{
		path:   filepath.Join(cfg.Dir, cfg.Archive),
		member: cfg.Member,
	}, nil
}

// Path returns the archive path.
func (s *Store) Path() string { return s.path }

// Exists reports whether the archive has been created.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read returns the full corpus text. A missing archive reads as "" with
// an error satisfying errors.Is(err, fs.ErrNotExist).
func (s *Store) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readMember(s.path, s.member)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Verify checks the live archive's structure and checksum.
func (s *Store) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := readMember(s.path, s.member)
	return err
}

// Merge appends text to the corpus. The first merge creates the archive
// holding exactly text; later merges store existing + Separator + text.
// On any error the previous archive is left as it was.
func (s *Store) Merge(text string) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result MergeResult
	existing, err := readMember(s.path, s.member)
	switch {
	case errors.Is(err, os.ErrNotExist):
		result.Created = true
	case err != nil:
		return result, fmt.Errorf("reading existing corpus: %w", err)
	}

	content := make([]byte, 0, len(existing)+len(Separator)+len(text))
	if !result.Created {
		content = append(content, existing...)
		content = append(content, Separator...)
	}
	content = append(content, text...)

	result.Before = len(existing)
	result.After = len(content)

	if err := s.replace(content); err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

// replace writes content to a temporary archive in the same directory,
// verifies it, and renames it over the live archive.
func (s *Store) replace(content []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".corpus-*.zip.tmp")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	writeErr := archiveWriter(tmp, s.member, content)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp archive: %w", err)
	}

	if err := verifyArchive(tmpPath, s.member, content); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing corpus archive: %w", err)
	}
	syncDir(dir)
	return nil
}

// archiveWriter produces the temp archive. Tests swap it to exercise the
// verification step.
var archiveWriter = writeArchive

// writeArchive writes a zip with one member deflated at maximum compression.
func writeArchive(w io.Writer, member string, content []byte) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	hdr := &zip.FileHeader{
		Name:     member,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		zw.Close()
		return fmt.Errorf("creating member %s: %w", member, err)
	}
	if _, err := fw.Write(content); err != nil {
		zw.Close()
		return fmt.Errorf("writing member %s: %w", member, err)
	}
	return zw.Close()
}

// verifyArchive re-reads a freshly written archive and checks that it
// decodes to exactly the content that was written.
func verifyArchive(path, member string, want []byte) error {
	got, err := readMember(path, member)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: %s does not round-trip (%d bytes written, %d read)", ErrVerify, path, len(want), len(got))
	}
	return nil
}

// readMember opens the archive at path, checks it holds exactly one
// member named member, and returns that member's bytes. Reading to EOF
// makes archive/zip validate the member's CRC-32.
func readMember(path, member string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: opening %s: %v", ErrVerify, path, err)
	}
	defer zr.Close()

	if len(zr.File) != 1 {
		return nil, fmt.Errorf("%w: %s holds %d members, want 1", ErrVerify, path, len(zr.File))
	}
	f := zr.File[0]
	if f.Name != member {
		return nil, fmt.Errorf("%w: %s holds member %q, want %q", ErrVerify, path, f.Name, member)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening member %s: %v", ErrVerify, member, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: reading member %s: %v", ErrVerify, member, err)
	}
	return data, nil
}

// syncDir flushes the directory entry after a rename. Failures are
// ignored; some platforms cannot fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
