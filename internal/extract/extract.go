// Package extract pulls plain text out of upload sources: local files
// (plain text or PDF) and web pages.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// maxFetchBytes caps how much of a remote page is read.
const maxFetchBytes = 4 << 20 // 4 MiB

// FromFile reads text from path. PDF files are extracted page by page;
// anything else is treated as plain UTF-8 text.
func FromFile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fromPDF(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func fromPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text from %s: %w", path, err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, reader); err != nil {
		return "", fmt.Errorf("reading pdf text from %s: %w", path, err)
	}
	return sb.String(), nil
}

// skippedTags are elements whose text content is never script material.
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"nav":      true,
	"footer":   true,
}

// FromURL fetches url and returns its visible text with tags stripped and
// whitespace collapsed. The response body is size-limited.
func FromURL(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	return StripHTML(io.LimitReader(resp.Body, maxFetchBytes))
}

// StripHTML extracts visible text from an HTML stream.
func StripHTML(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)

	var parts []string
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return "", fmt.Errorf("parsing html: %w", err)
			}
			return strings.Join(parts, " "), nil

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skippedTags[string(name)] {
				skipDepth++
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skippedTags[string(name)] && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(tokenizer.Text())), " ")
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
}
