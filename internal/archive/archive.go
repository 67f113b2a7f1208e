// Package archive reads and writes batch run archives: zip files holding a
// run manifest and one result file per run and kind, either flat or nested in
// per-run sub-archives under summaries/.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
)

// SummariesName is the zip next to the manifest in the directory layout.
const SummariesName = "summaries.zip"

var logf = monitoring.Component("archive")

// Entry is a single run result file.
type Entry struct {
	// Name is the path inside the (sub-)archive holding the entry.
	Name string
	// Nested is the name of the sub-archive, empty for top-level entries.
	Nested string
	RunID  string
	// Kind is the file name with the run id prefix removed,
	// e.g. "infections.txt.csv".
	Kind string

	file *zip.File
}

// Open returns a reader for the entry content.
func (e *Entry) Open() (io.ReadCloser, error) {
	return e.file.Open()
}

// ReadAll returns the entry content.
func (e *Entry) ReadAll() ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", e.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", e.Name, err)
	}
	return data, nil
}

// File is a named blob, used for top-level archive members that are not
// run results.
type File struct {
	Name string
	Data []byte
}

// Archive is an opened batch archive.
type Archive struct {
	Path     string
	Manifest *Manifest
	// Metadata is nil when the archive has no descriptor.
	Metadata *Metadata
	Entries  []*Entry
	// Extras are top-level members that are neither the manifest nor run
	// results nor sub-archives.
	Extras []File

	byKey map[string]*Entry
}

// SplitName splits "<runId>.<kind>" at the first dot.
func SplitName(name string) (runID, kind string) {
	runID, kind, _ = strings.Cut(path.Base(name), ".")
	return runID, kind
}

// Open reads a batch archive. path may be a zip file or a directory holding
// _info.txt and summaries.zip.
func Open(fsys fsutil.FileSystem, p string) (*Archive, error) {
	a := &Archive{Path: p, byKey: make(map[string]*Entry)}
	zipPath := p

	if fsutil.IsDir(fsys, p) {
		data, err := fsys.ReadFile(filepath.Join(p, ManifestName))
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		if a.Manifest, err = ReadManifest(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		meta := filepath.Join(p, MetadataName)
		if fsys.Exists(meta) {
			raw, err := fsys.ReadFile(meta)
			if err != nil {
				return nil, err
			}
			if a.Metadata, err = ParseMetadata(raw); err != nil {
				return nil, err
			}
			a.Extras = append(a.Extras, File{Name: MetadataName, Data: raw})
		}
		zipPath = filepath.Join(p, SummariesName)
	}

	data, err := fsys.ReadFile(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip %s: %w", zipPath, err)
	}

	if a.Manifest == nil {
		if a.Manifest, err = readManifestEntry(zr); err != nil {
			return nil, err
		}
	}

	for _, f := range zr.File {
		name := f.Name
		switch {
		case strings.HasSuffix(name, "/"), name == ManifestName:
			continue
		case strings.HasSuffix(name, ".zip"):
			if err := a.addNested(f); err != nil {
				return nil, err
			}
		default:
			runID, kind := SplitName(name)
			if a.Manifest.Contains(runID) && kind != "" {
				a.add(&Entry{Name: name, RunID: runID, Kind: kind, file: f})
				continue
			}
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			if name == MetadataName {
				if a.Metadata, err = ParseMetadata(raw); err != nil {
					return nil, err
				}
			}
			a.Extras = append(a.Extras, File{Name: name, Data: raw})
		}
	}

	return a, nil
}

func (a *Archive) addNested(f *zip.File) error {
	raw, err := readZipFile(f)
	if err != nil {
		return err
	}
	inner, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("failed to open nested archive %s: %w", f.Name, err)
	}
	for _, g := range inner.File {
		if strings.HasSuffix(g.Name, "/") {
			continue
		}
		runID, kind := SplitName(g.Name)
		if !a.Manifest.Contains(runID) || kind == "" {
			logf("ignoring %s in %s: run not in manifest", g.Name, f.Name)
			continue
		}
		a.add(&Entry{Name: g.Name, Nested: f.Name, RunID: runID, Kind: kind, file: g})
	}
	return nil
}

func (a *Archive) add(e *Entry) {
	a.Entries = append(a.Entries, e)
	a.byKey[e.RunID+"\x00"+e.Kind] = e
}

// Find returns the entry of a run with the given kind.
func (a *Archive) Find(runID, kind string) (*Entry, bool) {
	e, ok := a.byKey[runID+"\x00"+kind]
	return e, ok
}

func readManifestEntry(zr *zip.Reader) (*Manifest, error) {
	for _, f := range zr.File {
		if f.Name != ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open manifest: %w", err)
		}
		defer rc.Close()
		return ReadManifest(rc)
	}
	return nil, fmt.Errorf("archive has no %s", ManifestName)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}

// Writer builds a zip archive with maximum deflate compression.
type Writer struct {
	zw *zip.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		fw, err := flate.NewWriter(out, flate.BestCompression)
		if err != nil {
			return nil, err
		}
		return fw, nil
	})
	return &Writer{zw: zw}
}

// Add writes one member.
func (w *Writer) Add(name string, data []byte) error {
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Close finishes the archive.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// Build returns a zip holding the given files in order.
func Build(files ...File) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, f := range files {
		if err := w.Add(f.Name, f.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
