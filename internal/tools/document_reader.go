package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/MimeLyc/agentkit/internal/schema"
)

const (
	DocumentReaderName = "document_reader"

	defaultMaxDocumentBytes = 1 << 20
)

var documentExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
	".log":  true,
}

type DocumentReaderInput struct {
	FilePath string `json:"file_path" jsonschema:"minLength=1,description=Path to the document to read."`
}

type DocumentReaderOutput struct {
	schema.ToolResult
	FilePath  string  `json:"file_path"`
	Content   *string `json:"content,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
}

// DocumentReaderOption configures NewDocumentReader.
type DocumentReaderOption func(*documentReader)

// WithBaseDir confines reads to dir. Relative paths are resolved against it.
func WithBaseDir(dir string) DocumentReaderOption {
	return func(r *documentReader) {
		r.baseDir = dir
	}
}

// WithMaxBytes caps how much of a document is returned.
func WithMaxBytes(n int64) DocumentReaderOption {
	return func(r *documentReader) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

type documentReader struct {
	baseDir  string
	maxBytes int64
}

// NewDocumentReader returns a tool that reads plain-text documents.
func NewDocumentReader(opts ...DocumentReaderOption) *TypedTool[DocumentReaderInput, DocumentReaderOutput] {
	r := &documentReader{maxBytes: defaultMaxDocumentBytes}
	for _, opt := range opts {
		opt(r)
	}
	return MustNew(DocumentReaderName,
		"Reads the text content of a document (.txt, .md, .csv, .json, .log) given its file path.",
		r.read)
}

func (r *documentReader) read(_ context.Context, in DocumentReaderInput) (DocumentReaderOutput, error) {
	out := DocumentReaderOutput{FilePath: in.FilePath}

	path, err := r.resolve(in.FilePath)
	if err != nil {
		out.ToolResult = schema.Failed("Access denied: %v", err)
		return out, nil
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		out.ToolResult = schema.Failed("File not found at path: %s", in.FilePath)
		return out, nil
	case err != nil:
		return out, fmt.Errorf("stat %s: %w", in.FilePath, err)
	case info.IsDir():
		out.ToolResult = schema.Failed("Path is a directory, not a file: %s", in.FilePath)
		return out, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !documentExtensions[ext] {
		out.ToolResult = schema.Failed("Unsupported file type: %s", ext)
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("open %s: %w", in.FilePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, r.maxBytes+1))
	if err != nil {
		return out, fmt.Errorf("read %s: %w", in.FilePath, err)
	}
	if int64(len(data)) > r.maxBytes {
		data = data[:r.maxBytes]
		// do not split a multi-byte rune
		for i := 0; i < utf8.UTFMax && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
		out.Truncated = true
	}
	if !utf8.Valid(data) {
		out.ToolResult = schema.Failed("File is not valid UTF-8 text: %s", in.FilePath)
		return out, nil
	}

	content := string(data)
	out.Content = &content
	out.ToolResult = schema.Succeeded()
	return out, nil
}

func (r *documentReader) resolve(p string) (string, error) {
	if r.baseDir == "" {
		return p, nil
	}
	base, err := filepath.Abs(r.baseDir)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the allowed directory", p)
	}
	return p, nil
}
