package dataset

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes is the upload size ceiling. It is also the limit applied
// when none is configured; larger limits are lowered to it.
const DefaultMaxBytes int64 = 200 << 20

// Loader turns uploaded files into datasets.
type Loader struct {
	MaxBytes int64
	Options  Options
}

// NewLoader returns a loader with the given size limit and parse options.
func NewLoader(maxBytes int64, opt Options) *Loader {
	if maxBytes <= 0 || maxBytes > DefaultMaxBytes {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{MaxBytes: maxBytes, Options: opt}
}

// Result holds either a parsed dataset or an archive awaiting an entry pick.
type Result struct {
	Dataset *Dataset
	Archive *Archive
}

// Archive is a ZIP upload holding several CSV entries.
type Archive struct {
	Name   string
	files  []*zip.File
	closer io.Closer
}

// Entries returns the CSV entry names in archive order.
func (a *Archive) Entries() []string {
	out := make([]string, len(a.files))
	for i, f := range a.files {
		out[i] = f.Name
	}
	return out
}

// Close releases the underlying file when the archive was opened from disk.
func (a *Archive) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// Load checks the size limit and dispatches on the file extension. A ZIP
// with exactly one CSV is parsed right away; with several, the caller picks
// one via LoadEntry.
func (l *Loader) Load(name string, r io.ReaderAt, size int64) (*Result, error) {
	if size > l.limit() {
		return nil, &SizeLimitError{Name: name, Size: size, Limit: l.limit()}
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		ds, err := l.parse(name, io.NewSectionReader(r, 0, size))
		if err != nil {
			return nil, err
		}
		return &Result{Dataset: ds}, nil
	case ".zip":
		return l.loadZip(name, r, size)
	default:
		return nil, &UnsupportedFormatError{Name: name}
	}
}

// LoadFile opens a file from disk and loads it. When the result holds an
// Archive, the caller owns it and must Close it.
func (l *Loader) LoadFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Name: filepath.Base(path), Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IOError{Name: filepath.Base(path), Err: err}
	}
	res, err := l.Load(filepath.Base(path), f, info.Size())
	if err != nil || res.Archive == nil {
		f.Close()
		return res, err
	}
	res.Archive.closer = f
	return res, nil
}

// LoadEntry parses the named CSV entry of an archive.
func (l *Loader) LoadEntry(a *Archive, name string) (*Dataset, error) {
	for _, f := range a.files {
		if f.Name == name {
			return l.parseEntry(f)
		}
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrEntryNotFound, name, a.Name)
}

func (l *Loader) loadZip(name string, r io.ReaderAt, size int64) (*Result, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &UnsupportedFormatError{Name: name, Reason: fmt.Sprintf("not a readable ZIP archive (%v)", err)}
	}
	var csvs []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			csvs = append(csvs, f)
		}
	}
	switch len(csvs) {
	case 0:
		return nil, &UnsupportedFormatError{Name: name, Reason: "the ZIP archive contains no CSV file"}
	case 1:
		ds, err := l.parseEntry(csvs[0])
		if err != nil {
			return nil, err
		}
		return &Result{Dataset: ds}, nil
	default:
		return &Result{Archive: &Archive{Name: name, files: csvs}}, nil
	}
}

func (l *Loader) parseEntry(f *zip.File) (*Dataset, error) {
	if int64(f.UncompressedSize64) > l.limit() {
		return nil, &SizeLimitError{Name: f.Name, Size: int64(f.UncompressedSize64), Limit: l.limit()}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &IOError{Name: f.Name, Err: err}
	}
	defer rc.Close()
	return l.parse(f.Name, rc)
}

func (l *Loader) parse(name string, r io.Reader) (*Dataset, error) {
	res, err := Parse(r, l.Options)
	if err != nil {
		if ioErr, ok := err.(*IOError); ok && ioErr.Name == "" {
			ioErr.Name = name
		}
		return nil, err
	}
	return New(name, res), nil
}

func (l *Loader) limit() int64 {
	if l.MaxBytes <= 0 || l.MaxBytes > DefaultMaxBytes {
		return DefaultMaxBytes
	}
	return l.MaxBytes
}
