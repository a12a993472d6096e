package scraper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-tululu/parser"
)

// Downloader saves book texts and cover images, skipping files that already exist.
type Downloader struct {
	fetcher PageFetcher
	known   *lru.Cache[string, struct{}]
}

// NewDownloader builds a downloader. cacheSize bounds how many saved paths are
// remembered so repeated ids skip the filesystem check.
func NewDownloader(fetcher PageFetcher, cacheSize int) (*Downloader, error) {
	known, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create existence cache: %w", err)
	}
	return &Downloader{
		fetcher: fetcher,
		known:   known,
	}, nil
}

// DownloadText saves the text of bookID as "{id}.{title}.txt" in destFolder.
func (d *Downloader) DownloadText(ctx context.Context, endpoint string, bookID int, title, destFolder string) (string, error) {
	filename := parser.SanitizeFilename(fmt.Sprintf("%d.%s.txt", bookID, title))
	params := url.Values{"id": {strconv.Itoa(bookID)}}
	return d.download(ctx, endpoint, params, filename, destFolder)
}

// DownloadImage saves the image at imageURL under its own file name in destFolder.
func (d *Downloader) DownloadImage(ctx context.Context, imageURL, destFolder string) (string, error) {
	filename := parser.SanitizeFilename(parser.FilenameFromURL(imageURL))
	if filename == "" {
		return "", fmt.Errorf("image %q: %w", imageURL, ErrNoFilename)
	}
	return d.download(ctx, imageURL, nil, filename, destFolder)
}

func (d *Downloader) download(ctx context.Context, rawURL string, params url.Values, filename, destFolder string) (string, error) {
	target := filepath.Join(destFolder, filename)
	if d.known.Contains(target) {
		return target, nil
	}

	if err := os.MkdirAll(destFolder, 0o755); err != nil {
		return "", fmt.Errorf("create directory %q: %w", destFolder, err)
	}

	exists, err := fileExists(target)
	if err != nil {
		return "", err
	}
	if exists {
		d.known.Add(target, struct{}{})
		return target, nil
	}

	resp, err := d.fetcher.Fetch(ctx, rawURL, params)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(target, resp.Body); err != nil {
		return "", err
	}
	d.known.Add(target, struct{}{})
	return target, nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%q is a directory", path)
	}
	return true, nil
}

// writeFileAtomic writes through a temp file so an interrupted run never leaves
// a truncated artifact behind that would later pass the existence check.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %q: %w", path, err)
	}
	return nil
}
