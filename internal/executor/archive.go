// Package executor converts a stream of decider actions into the minimum
// number of network operations: batched tar+gzip transfers, batched
// remote/local deletes, and per-path conflict artifacts.
//
// Grounded on the teacher's internal/securestore/securestore.go createTarGz
// (tar+gzip bundling from a list of source/archive-path pairs, with
// directory-walk-into-archive support), stripped of the AES-GCM envelope
// securestore wraps around the archive — confidentiality here is already
// provided by the SSH transport, so the bundle travels as plain tar.gz.
package executor

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// BundleItem pairs a local filesystem path with the path it should occupy
// inside the archive (POSIX-relative, slash-separated).
type BundleItem struct {
	SrcPath     string
	ArchivePath string
}

// buildTarGz writes items into a tar.gz archive, sorted by ArchivePath so
// archive contents are deterministic and diffable across runs.
func buildTarGz(items []BundleItem) ([]byte, error) {
	sorted := make([]BundleItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ArchivePath < sorted[j].ArchivePath })

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, it := range sorted {
		if err := addFile(tw, it); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return nil, fmt.Errorf("executor: archiving %s: %w", it.SrcPath, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addFile(tw *tar.Writer, it BundleItem) error {
	info, err := os.Stat(it.SrcPath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", it.SrcPath)
	}
	f, err := os.Open(it.SrcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := &tar.Header{
		Name:    filepath.ToSlash(it.ArchivePath),
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractTarGz extracts a tar.gz stream into destRoot, creating parent
// directories as needed. Every extracted file is written with mode 0644;
// the tar header's permission bits are not applied (ownership/permission
// synchronization is out of scope). The header's mtime is applied.
func extractTarGz(r io.Reader, destRoot string) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("executor: opening bundle: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var written []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("executor: reading bundle entry: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		outPath := filepath.Join(destRoot, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return written, err
		}
		out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return written, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return written, err
		}
		if err := out.Close(); err != nil {
			return written, err
		}
		_ = os.Chtimes(outPath, hdr.ModTime, hdr.ModTime)
		written = append(written, filepath.ToSlash(hdr.Name))
	}
	return written, nil
}

// splitBatches partitions items into N roughly-equal groups once the
// count exceeds highWaterMark, bounding per-archive memory and giving
// finer-grained progress checkpoints on large syncs.
func splitBatches(items []BundleItem, highWaterMark int) [][]BundleItem {
	if highWaterMark <= 0 || len(items) <= highWaterMark {
		return [][]BundleItem{items}
	}
	n := (len(items) + highWaterMark - 1) / highWaterMark
	batches := make([][]BundleItem, 0, n)
	size := (len(items) + n - 1) / n
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}
