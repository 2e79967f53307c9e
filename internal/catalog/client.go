package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// DownloadConfig controls retry behavior for Client's downloads, grounded on
// original_source/mbf-agent/src/downloads.rs's DownloadConfig.
type DownloadConfig struct {
	// MaxDisconnections is the number of times a download attempt may fail
	// (transport error or a dropped connection mid-body) before giving up.
	MaxDisconnections int
	// DisconnectWaitTime is slept between failed attempts.
	DisconnectWaitTime time.Duration
}

// DefaultDownloadConfig mirrors the original's typical defaults: a handful
// of retries with a short pause between them.
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{MaxDisconnections: 5, DisconnectWaitTime: 2 * time.Second}
}

// Client fetches catalog JSON documents and diff/mod artifacts over HTTP.
type Client struct {
	HTTP  *http.Client
	DLCfg DownloadConfig
	Log   *logrus.Entry
}

// NewClient returns a Client logging to log (the standard logger when nil),
// with a 30-second HTTP timeout and the default retry configuration.
func NewClient(log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}, DLCfg: DefaultDownloadConfig(), Log: log}
}

// FetchJSON GETs url and unmarshals the response body into out.
func (c *Client) FetchJSON(url string, out interface{}) error {
	data, err := c.downloadToBuffer(url)
	if err != nil {
		return fmt.Errorf("catalog: fetching %s: %w", url, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("catalog: parsing %s: %w", url, err)
	}
	return nil
}

// FetchDiffIndex fetches the published version-diff index.
func (c *Client) FetchDiffIndex(url string) (DiffIndex, error) {
	var index DiffIndex
	if err := c.FetchJSON(url, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// FetchCoreMods fetches the per-version core mod index.
func (c *Client) FetchCoreMods(url string) (CoreModIndex, error) {
	var index CoreModIndex
	if err := c.FetchJSON(url, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// FetchModRepo fetches the community mod repository index.
func (c *Client) FetchModRepo(url string) (ModRepo, error) {
	var repo ModRepo
	if err := c.FetchJSON(url, &repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// DownloadFile downloads url to destPath with retries. destPath is
// truncated first; no Range header is sent, so a retry after a failure
// mid-body restarts from the first byte rather than resuming.
func (c *Client) DownloadFile(url, destPath string) error {
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("catalog: creating %s: %w", destPath, err)
	}
	defer f.Close()

	return c.downloadWithAttempts(url, f)
}

func (c *Client) downloadToBuffer(url string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.downloadWithAttempts(url, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// downloadWithAttempts retries the whole-body GET up to DLCfg.MaxDisconnections
// times, per downloads.rs's download_with_attempts. Range-based resume is not
// implemented here since `to` is not guaranteed seekable (it may be a Buffer);
// each retry restarts from byte zero, unlike the original's resumable variant.
func (c *Client) downloadWithAttempts(url string, to io.Writer) error {
	var lastErr error
	for attempt := 0; attempt <= c.DLCfg.MaxDisconnections; attempt++ {
		if attempt > 0 {
			c.Log.WithField("attempt", attempt+1).Warn("retrying download")
			time.Sleep(c.DLCfg.DisconnectWaitTime)
		}

		resp, err := c.HTTP.Get(url)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("catalog: got status %d from %s", resp.StatusCode, url)
		}

		_, copyErr := io.Copy(to, resp.Body)
		resp.Body.Close()
		if copyErr != nil {
			lastErr = copyErr
			// Drop the partial body so the retry writes from offset zero.
			switch w := to.(type) {
			case *bytes.Buffer:
				w.Reset()
			case *os.File:
				if _, err := w.Seek(0, io.SeekStart); err != nil {
					return fmt.Errorf("catalog: rewinding %s: %w", w.Name(), err)
				}
				if err := w.Truncate(0); err != nil {
					return fmt.Errorf("catalog: truncating %s: %w", w.Name(), err)
				}
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("catalog: download failed after %d attempts: %w", c.DLCfg.MaxDisconnections+1, lastErr)
}
