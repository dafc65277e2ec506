package services

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// InitPDFLicense registers the UniDoc metered key. Call once from main before
// any PDF extraction; without it PDF files fail and are skipped.
func InitPDFLicense(key string) {
	if key == "" {
		log.Println("EXTRACT: no UNIDOC_LICENSE_KEY set, PDF extraction will fail")
		return
	}
	if err := license.SetMeteredKey(key); err != nil {
		log.Printf("EXTRACT: failed to set UniDoc license key: %v. PDF processing will fail.", err)
	}
}

// ExtractTextFromFile reads a source file and returns its raw text content.
// It handles plain text and PDF; anything else is an ExtractError.
func ExtractTextFromFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".txt", ".md":
		content, err := os.ReadFile(path)
		if err != nil {
			return "", &ExtractError{Path: path, Err: err}
		}
		return string(content), nil
	case ".pdf":
		text, err := extractTextFromPDF(path)
		if err != nil {
			return "", &ExtractError{Path: path, Err: err}
		}
		return text, nil
	default:
		return "", &ExtractError{Path: path, Err: fmt.Errorf("unsupported file type: %s", ext)}
	}
}

// extractTextFromPDF uses UniPDF to get all text from a PDF file, page by
// page, joined with blank lines.
func extractTextFromPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pdfReader, err := model.NewPdfReader(f)
	if err != nil {
		return "", err
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", err
		}

		ex, err := extractor.New(page)
		if err != nil {
			return "", err
		}

		text, err := ex.ExtractText()
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	return sb.String(), nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeWhitespace collapses every whitespace run to a single space and
// trims the ends. Chunk offsets are only meaningful over normalized text.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// IsSupportedFile reports whether the ingestion job should pick up this path.
func IsSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".pdf":
		return true
	default:
		return false
	}
}
