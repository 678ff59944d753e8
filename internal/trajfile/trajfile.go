// Package trajfile reads and writes trajectory input files.
//
// Two formats are supported. The text format holds one frame per line as
// whitespace-separated numbers; blank lines and lines starting with # are
// ignored. The YAML format (.yaml or .yml) holds a single key:
//
//	frames:
//	  - [0, 0, 1, 0.1]
//	  - [0, 0.01, 1, 0.1]
package trajfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/waypoint/internal/checksum"
)

// ErrWidth is returned when a frame does not have the expected number of coordinates.
var ErrWidth = errors.New("trajfile: frame width mismatch")

// Format identifies a file layout.
type Format int

const (
	FormatText Format = iota
	FormatYAML
)

// FormatFor picks the format from the file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

type yamlDoc struct {
	Frames [][]float64 `yaml:"frames"`
}

// Parse decodes frames from data. When dof is positive every frame must be
// exactly dof wide.
func Parse(data []byte, f Format, dof int) ([][]float64, error) {
	var (
		frames [][]float64
		err    error
	)
	switch f {
	case FormatYAML:
		frames, err = parseYAML(data)
	default:
		frames, err = parseText(data)
	}
	if err != nil {
		return nil, err
	}
	if dof > 0 {
		for i, fr := range frames {
			if len(fr) != dof {
				return nil, fmt.Errorf("%w: frame %d has %d values, want %d", ErrWidth, i, len(fr), dof)
			}
		}
	}
	return frames, nil
}

func parseYAML(data []byte) ([][]float64, error) {
	var doc yamlDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trajfile: decode yaml: %w", err)
	}
	return doc.Frames, nil
}

func parseText(data []byte) ([][]float64, error) {
	var frames [][]float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		fr := make([]float64, len(fields))
		for i, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("trajfile: line %d: %w", line, err)
			}
			fr[i] = v
		}
		frames = append(frames, fr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trajfile: scan: %w", err)
	}
	return frames, nil
}

// Read loads and parses the file at path. It also returns the checksum of
// the raw file contents.
func Read(path string, dof int) ([][]float64, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("trajfile: read %s: %w", path, err)
	}
	frames, err := Parse(data, FormatFor(path), dof)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return frames, checksum.Sum(data), nil
}

// Write encodes frames in format f.
func Write(w io.Writer, f Format, frames [][]float64) error {
	if f == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(yamlDoc{Frames: frames}); err != nil {
			return fmt.Errorf("trajfile: encode yaml: %w", err)
		}
		return enc.Close()
	}

	bw := bufio.NewWriter(w)
	for _, fr := range frames {
		for i, v := range fr {
			if i > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteFile writes frames to path, choosing the format from the extension.
// The file is replaced atomically: tmp file, fsync, rename.
func WriteFile(path string, frames [][]float64) error {
	var buf bytes.Buffer
	if err := Write(&buf, FormatFor(path), frames); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("trajfile: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".waypoint-tmp-*")
	if err != nil {
		return fmt.Errorf("trajfile: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("trajfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("trajfile: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("trajfile: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("trajfile: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("trajfile: rename: %w", err)
	}
	success = true
	return nil
}
