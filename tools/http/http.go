// Package http provides a web page fetching tool.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/braid-ai/braid"
)

const (
	// maxBody caps how much of a response is read.
	maxBody = 1 << 20
	// maxResult caps how many characters are handed back to the model.
	maxResult = 8000

	userAgent = "Mozilla/5.0 (compatible; braid/1.0)"
)

// RequestTool returns a tool that fetches a URL with GET and hands its
// readable text back to the model. HTML responses go through readability
// extraction; other content types are returned as-is. Responses are read
// up to 1 MiB and results truncated to 8000 characters.
func RequestTool() *braid.Tool {
	client := &http.Client{Timeout: 15 * time.Second}
	return braid.NewTool(
		"http_request",
		"Fetch a URL with GET and return its readable text content. Use for reading web pages, articles, documentation.",
		[]braid.ToolProperty{{
			Name:        "url",
			Type:        braid.TypeString,
			Description: "URL to fetch",
			Required:    true,
		}},
		func(ctx context.Context, args map[string]any) (any, error) {
			rawURL, _ := args["url"].(string)
			content, err := fetch(ctx, client, rawURL)
			if err != nil {
				return nil, err
			}
			if len(content) > maxResult {
				content = content[:maxResult] + "\n... (truncated)"
			}
			return content, nil
		},
	)
}

// fetch downloads rawURL and extracts readable text.
func fetch(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	text := string(body)
	if strings.Contains(ct, "html") {
		parsedURL, _ := url.Parse(rawURL)
		if article, err := readability.FromReader(bytes.NewReader(body), parsedURL); err == nil {
			if extracted := strings.TrimSpace(article.TextContent); extracted != "" {
				text = extracted
			}
		}
	}
	return strings.TrimSpace(text), nil
}
