package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/lumeview/tagrunner/pkg/catalog"
)

// progressInterval bounds how often byte-level progress is emitted
// while a file transfers, so fast links do not flood the stream.
const progressInterval = 8 << 20

// ProgressFunc receives download progress records. It is called from
// the downloading goroutine; implementations decide how to forward
// records (HTTP stream, channel, test capture).
type ProgressFunc func(Progress)

// Download fetches every missing manifest file of a model, in manifest
// order. Files already present with the declared size (and digest, when
// one is declared) are counted toward the cumulative total without
// re-fetching, which is what makes an interrupted download resume
// instead of restart. Cancellation is cooperative: the context is
// checked at file boundaries only, and files completed before
// cancellation stay on disk.
//
// A transport failure on any file removes that file's partial data,
// emits a terminal error record and aborts the download; no
// partially-installed model is ever reported Ready.
func (s *LocalStore) Download(ctx context.Context, m catalog.Model, emit ProgressFunc) error {
	total := m.TotalSize()
	var downloaded int64

	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			s.log.Infof("download of %s cancelled before %s", m.ID, f.Name)
			return err
		}

		target := s.FilePath(m, f.Name)
		if n, ok := s.acceptExisting(target, f); ok {
			downloaded += n
			emit(Progress{
				Status:          StatusDownloading,
				Model:           m.ID,
				File:            f.Name,
				BytesDownloaded: downloaded,
				TotalBytes:      total,
			})
			continue
		}

		n, err := s.fetchFile(ctx, m, f, target, func(fileBytes int64) {
			emit(Progress{
				Status:          StatusDownloading,
				Model:           m.ID,
				File:            f.Name,
				BytesDownloaded: downloaded + fileBytes,
				TotalBytes:      total,
			})
		})
		if err != nil {
			dlErr := &DownloadError{File: f.Name, Cause: err}
			emit(Progress{
				Status:          StatusError,
				Model:           m.ID,
				File:            f.Name,
				BytesDownloaded: downloaded,
				TotalBytes:      total,
				Message:         dlErr.Error(),
			})
			return dlErr
		}

		downloaded += n
		if f.Size == 0 {
			// Unknown declared size: fold the actual size into the
			// total so the final record balances.
			total += n
		}
	}

	emit(Progress{
		Status:          StatusReady,
		Model:           m.ID,
		BytesDownloaded: downloaded,
		TotalBytes:      total,
	})
	return nil
}

// acceptExisting reports whether an already-present file can stand in
// for the manifest entry, returning its byte size. A declared size of
// zero means "not verifiable", which disables the skip for that file. A
// declared digest must also match; a same-size file with the wrong
// content is re-downloaded.
func (s *LocalStore) acceptExisting(path string, f catalog.File) (int64, bool) {
	if f.Size == 0 {
		return 0, false
	}
	stat, err := os.Stat(path)
	if err != nil || stat.Size() != f.Size {
		return 0, false
	}
	if f.Digest != "" {
		sum, err := fileSHA256(path)
		if err != nil || sum != f.Digest {
			s.log.Warnf("existing %s fails digest check, re-downloading", path)
			return 0, false
		}
	}
	return stat.Size(), true
}

// fetchFile downloads one manifest file to an .incomplete temp path and
// renames it into place, reporting byte progress at a bounded interval.
func (s *LocalStore) fetchFile(ctx context.Context, m catalog.Model, f catalog.File, target string, report func(int64)) (int64, error) {
	url := s.fileURL(m, f.Name)
	s.log.Infof("downloading %s from %s", f.Name, url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := incompletePath(target)
	out, err := createFile(tmp)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, &progressReader{r: resp.Body, report: report})
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if f.Digest != "" {
		sum, err := fileSHA256(tmp)
		if err != nil {
			os.Remove(tmp)
			return 0, fmt.Errorf("verify %s: %w", f.Name, err)
		}
		if sum != f.Digest {
			os.Remove(tmp)
			return 0, fmt.Errorf("digest mismatch: got %s, want %s", sum, f.Digest)
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("finalize %s: %w", f.Name, err)
	}

	// At least one progress record per file, even for tiny files that
	// never crossed the reporting interval.
	report(n)
	return n, nil
}

// progressReader reports the cumulative byte count every
// progressInterval bytes.
type progressReader struct {
	r      io.Reader
	read   int64
	last   int64
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.read-p.last >= progressInterval {
		p.last = p.read
		p.report(p.read)
	}
	return n, err
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
