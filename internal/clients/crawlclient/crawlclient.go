// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package crawlclient is the Crawl Client (C11): fetches a URL, extracts
// its main article with go-readability, and normalizes it to Markdown with
// html-to-markdown — the pack's only crawler (the teacher carries none),
// pulled from intelligencedev-manifold's internal/tools/web/fetch.go.
// Failures degrade to an empty result for that URL, logged but never
// raised to the caller, per spec section 5.
package crawlclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// Config configures a Client.
type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

// Result is one successfully crawled page.
type Result struct {
	URL      string
	Title    string
	Markdown string
}

// Client fetches and normalizes URLs.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client with hardened defaults mirroring the teacher's
// fetcher (redirect cap, byte cap, browser-like Accept headers).
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 8 * 1000 * 1000
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
	}
}

// FetchAll crawls urls in parallel, each bounded by Config.Timeout, and
// returns only the successes — failed URLs are skipped silently (logged),
// per spec section 4.6 step 5.
func (c *Client) FetchAll(ctx context.Context, urls []string) []Result {
	type indexed struct {
		idx int
		res *Result
	}
	out := make(chan indexed, len(urls))

	for i, u := range urls {
		go func(i int, u string) {
			res, err := c.fetch(ctx, u)
			if err != nil {
				slog.Debug("crawl fetch failed", "url", u, "error", err)
				out <- indexed{idx: i, res: nil}
				return
			}
			out <- indexed{idx: i, res: res}
		}(i, u)
	}

	results := make([]*Result, len(urls))
	for range urls {
		item := <-out
		results[item.idx] = item.res
	}

	ordered := make([]Result, 0, len(urls))
	for _, r := range results {
		if r != nil {
			ordered = append(ordered, *r)
		}
	}
	return ordered
}

func (c *Client) fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; gateway-crawler/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	finalURL := resp.Request.URL.String()
	ct, cs := parseContentType(resp.Header.Get("Content-Type"))

	limited := io.LimitReader(resp.Body, c.cfg.MaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxBytes {
		return nil, fmt.Errorf("response exceeds max bytes (%d)", c.cfg.MaxBytes)
	}

	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return nil, fmt.Errorf("charset decode: %w", err)
	}

	if !isHTML(ct) {
		return &Result{URL: finalURL, Markdown: string(utf8Body)}, nil
	}

	html := string(utf8Body)
	articleHTML := html
	title := ""

	base, _ := url.Parse(finalURL)
	if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(finalURL)))
	if err != nil {
		return nil, fmt.Errorf("html to markdown: %w", err)
	}

	return &Result{URL: finalURL, Title: title, Markdown: strings.TrimSpace(md)}, nil
}

func parseContentType(h string) (ctype, charsetLabel string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return h, ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func isHTML(ct string) bool {
	return ct == "text/html" || ct == "application/xhtml+xml" || strings.HasSuffix(ct, "html")
}

func toUTF8(b []byte, charsetLabel string) ([]byte, error) {
	if charsetLabel == "" || strings.EqualFold(charsetLabel, "utf-8") || strings.EqualFold(charsetLabel, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(charsetLabel, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
