package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/waypoint/internal/trajfile"
)

const maxTrajectorySize = 32 << 20 // 32 MB

var mimeToFormat = map[string]trajfile.Format{
	"text/plain":         trajfile.FormatText,
	"text/csv":           trajfile.FormatText,
	"application/yaml":   trajfile.FormatYAML,
	"application/x-yaml": trajfile.FormatYAML,
	"text/yaml":          trajfile.FormatYAML,
	"text/x-yaml":        trajfile.FormatYAML,
}

type importResult struct {
	Path   string `json:"path"`
	Frames int    `json:"frames"`
	DoF    int    `json:"dof"`
}

func (s *Server) importTrajectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.src.Path == "" {
		return mcp.NewToolResultError("no trajectory input file configured"), nil
	}

	var (
		data     []byte
		detected string
	)
	if strings.HasPrefix(rawURL, "data:") {
		data, detected, err = decodeDataURI(rawURL)
	} else {
		data, detected, err = fetchHTTP(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	format, err := pickFormat(req.GetString("format", ""), detected, rawURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	frames, err := trajfile.Parse(data, format, s.src.DoF)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(frames) < s.src.Frames {
		return mcp.NewToolResultError(fmt.Sprintf("trajectory has %d frames, want at least %d", len(frames), s.src.Frames)), nil
	}

	if err := trajfile.WriteFile(s.src.Path, frames); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Reload(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("saved %s but reload failed: %v", s.src.Path, err)), nil
	}

	return jsonResult(importResult{Path: s.src.Path, Frames: len(frames), DoF: s.src.DoF}), nil
}

// pickFormat prefers an explicit format, then the MIME type, then the URL
// extension.
func pickFormat(explicit, mime, rawURL string) (trajfile.Format, error) {
	switch strings.ToLower(explicit) {
	case "text", "txt":
		return trajfile.FormatText, nil
	case "yaml", "yml":
		return trajfile.FormatYAML, nil
	case "":
	default:
		return 0, fmt.Errorf("unsupported format: %s (allowed: text, yaml)", explicit)
	}
	if f, ok := mimeToFormat[mime]; ok {
		return f, nil
	}
	if parsed, err := url.Parse(rawURL); err == nil && !strings.HasPrefix(rawURL, "data:") {
		return trajfile.FormatFor(path.Base(parsed.Path)), nil
	}
	return trajfile.FormatText, nil
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI and returns
// the payload and its media type.
func decodeDataURI(uri string) ([]byte, string, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, "", fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	if len(data) > maxTrajectorySize {
		return nil, "", fmt.Errorf("file too large: %d bytes (max %d)", len(data), maxTrajectorySize)
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	return data, mime, nil
}

// fetchHTTP downloads a file from an HTTP/HTTPS URL with security checks.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTrajectorySize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxTrajectorySize {
		return nil, "", fmt.Errorf("file too large: exceeds %d bytes", maxTrajectorySize)
	}

	return data, strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0]), nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}
