// Package fetcher opens transcript and taxonomy sources from local paths,
// HTTP(S) URLs, and FTP URLs, and parses delimited and spreadsheet content.
package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures the remote fetchers used by Open.
type Options struct {
	Timeout time.Duration
	RPS     rate.Limit
}

// Opener resolves a source string to a readable stream.
type Opener struct {
	http Fetcher
	ftp  Fetcher
}

// NewOpener creates an Opener with HTTP and FTP fetchers.
func NewOpener(opts Options) *Opener {
	return &Opener{
		http: NewHTTPFetcher(HTTPOptions{Timeout: opts.Timeout, RPS: opts.RPS}),
		ftp:  NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}),
	}
}

// Open returns a reader for src. Remote sources are streamed; anything
// without a recognised scheme is treated as a local path.
func (o *Opener) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return o.http.Download(ctx, src)
	case strings.HasPrefix(src, "ftp://"):
		return o.ftp.Download(ctx, src)
	}

	f, err := os.Open(strings.TrimPrefix(src, "file://"))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", src)
	}
	return f, nil
}

// Materialize makes src available as a local file under dir and returns its
// path. Local paths are returned unchanged. Formats that need random access,
// such as xlsx and zip, go through here.
func (o *Opener) Materialize(ctx context.Context, src, dir string) (string, error) {
	if !IsRemote(src) {
		return strings.TrimPrefix(src, "file://"), nil
	}

	rc, err := o.Open(ctx, src)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	dest := filepath.Join(dir, SourceName(src))
	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create local copy")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrapf(err, "fetcher: copy %s", src)
	}
	return dest, nil
}

// IsRemote reports whether src names an HTTP(S) or FTP resource.
func IsRemote(src string) bool {
	for _, p := range []string{"http://", "https://", "ftp://"} {
		if strings.HasPrefix(src, p) {
			return true
		}
	}
	return false
}

// SourceName returns the file name component of a path or URL, without any
// query string.
func SourceName(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 && IsRemote(src) {
		src = src[:i]
	}
	name := filepath.Base(strings.TrimRight(src, "/"))
	if name == "." || name == "/" || name == "" {
		return "source"
	}
	return name
}

// Ext returns the lower-cased extension of a source, e.g. ".xlsx".
func Ext(src string) string {
	return strings.ToLower(filepath.Ext(SourceName(src)))
}
