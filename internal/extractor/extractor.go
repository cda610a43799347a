// Package extractor opens PDF files and yields plain text plus metadata,
// with a quality-scored multi-method fallback. Extraction is strictly
// upstream of the completion client; no method shells out to a model.
package extractor

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
)

// LowYieldError signals a PDF that is most likely image-only/scanned: it
// opened fine but yielded too little text per page to index meaningfully.
type LowYieldError struct {
	CharsPerPage float64
}

func (e *LowYieldError) Error() string {
	return fmt.Sprintf("extracted text density too low (%.1f chars/page); likely a scanned or image-only PDF", e.CharsPerPage)
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text           string
	NumPages       int
	NumCharacters  int
	Method         string
	QualityScore   float64
	ProcessingTime time.Duration
}

// Metadata is the subset of PDF document properties the system exposes.
type Metadata struct {
	Title    string
	Author   string
	NumPages int
	FileSize int64
}

// defaultMaxPDFBytes bounds how large a file ExtractText will open, so a
// single huge upload cannot pin a tool-server worker indefinitely. Refused
// upfront rather than attempted and left to block (see DESIGN.md).
const defaultMaxPDFBytes = 200 * 1024 * 1024

// Extractor opens PDFs by path and extracts text, trying a primary pure-Go
// method and an optional external fallback.
type Extractor struct {
	LowYieldCharsPerPage int
	MaxPDFBytes          int64
}

func New(lowYieldCharsPerPage int) *Extractor {
	if lowYieldCharsPerPage <= 0 {
		lowYieldCharsPerPage = 100
	}
	return &Extractor{LowYieldCharsPerPage: lowYieldCharsPerPage, MaxPDFBytes: defaultMaxPDFBytes}
}

// ExtractText opens path and returns its text, classifying every failure
// mode into a distinct apperr.Kind.
func (e *Extractor) ExtractText(path string) (*Result, error) {
	start := time.Now()

	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.ExtractFailed, "pdf not found: %s", path)
		}
		return nil, apperr.Newf(apperr.ExtractFailed, "cannot stat pdf: %v", err)
	}

	if e.MaxPDFBytes > 0 && stat.Size() > e.MaxPDFBytes {
		return nil, apperr.Newf(apperr.BadInput, "pdf is %d bytes, exceeding the %d-byte extraction ceiling", stat.Size(), e.MaxPDFBytes)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Newf(apperr.ExtractFailed, "cannot read pdf: %v", err)
	}

	type method struct {
		name    string
		extract func([]byte) (*Result, error)
	}
	methods := []method{
		{"go-pdf", e.extractWithGoPDF},
		{"poppler", e.extractWithPoppler},
	}

	var lastErr error
	var best *Result
	for _, m := range methods {
		result, err := m.extract(content)
		if err != nil {
			logger.Debug("extraction method failed", "method", m.name, "error", err)
			lastErr = err
			continue
		}
		result.Method = m.name
		result.ProcessingTime = time.Since(start)
		result.QualityScore = evaluateTextQuality(result.Text)

		if result.QualityScore >= 0.7 {
			return e.checkYield(result, stat.Size())
		}
		if best == nil || result.QualityScore > best.QualityScore {
			best = result
		}
	}

	if best != nil && best.QualityScore >= 0.3 {
		return e.checkYield(best, stat.Size())
	}
	if lastErr != nil {
		return nil, apperr.Newf(apperr.ExtractFailed, "all extraction methods failed: %v", lastErr)
	}
	return nil, apperr.New(apperr.ExtractFailed, "no extraction method produced usable text")
}

func (e *Extractor) checkYield(result *Result, fileSize int64) (*Result, error) {
	if result.NumPages == 0 {
		return result, nil
	}
	density := float64(result.NumCharacters) / float64(result.NumPages)
	if density < float64(e.LowYieldCharsPerPage) {
		return result, &LowYieldError{CharsPerPage: density}
	}
	return result, nil
}

func (e *Extractor) extractWithGoPDF(content []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "password") || strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return nil, apperr.New(apperr.ExtractFailed, "pdf is password-protected")
		}
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	var text strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Debug("page extraction warning", "page", i, "error", err)
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}

	extracted := text.String()
	if extracted == "" {
		return nil, fmt.Errorf("no text extracted")
	}
	return &Result{Text: extracted, NumPages: pages, NumCharacters: len(extracted)}, nil
}

// extractWithPoppler shells out to pdftotext when it's on PATH — an
// optional higher-fidelity fallback used only when the primary pure-Go
// method is poor quality.
func (e *Extractor) extractWithPoppler(content []byte) (*Result, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not available: %w", err)
	}

	cmd := exec.Command("pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w: %s", err, stderr.String())
	}

	extracted := stdout.String()
	if extracted == "" {
		return nil, fmt.Errorf("pdftotext produced no text")
	}
	return &Result{Text: extracted, NumPages: guessPageCount(extracted), NumCharacters: len(extracted)}, nil
}

func guessPageCount(text string) int {
	count := strings.Count(text, "\f") + 1
	if count <= 1 {
		// rough heuristic: ~3000 chars/page when no form-feed markers exist
		est := len(text)/3000 + 1
		return est
	}
	return count
}

// ExtractPages returns the plain text of each page independently, for
// callers (search_pdf) that need page-addressable results rather than one
// concatenated blob.
func (e *Extractor) ExtractPages(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.ExtractFailed, "pdf not found: %s", path)
		}
		return nil, apperr.Newf(apperr.ExtractFailed, "cannot read pdf: %v", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, apperr.Newf(apperr.ExtractFailed, "cannot open pdf: %v", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// Metadata reads a PDF's document info dictionary and page count.
func (e *Extractor) Metadata(path string) (*Metadata, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.ExtractFailed, "pdf not found: %s", path)
		}
		return nil, apperr.Newf(apperr.ExtractFailed, "cannot stat pdf: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Newf(apperr.ExtractFailed, "cannot read pdf: %v", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, apperr.Newf(apperr.ExtractFailed, "cannot open pdf: %v", err)
	}

	m := &Metadata{NumPages: reader.NumPage(), FileSize: stat.Size()}
	trailer := reader.Trailer()
	if info := trailer.Key("Info"); !info.IsNull() {
		if t := info.Key("Title"); !t.IsNull() {
			m.Title = t.Text()
		}
		if a := info.Key("Author"); !a.IsNull() {
			m.Author = a.Text()
		}
	}
	return m, nil
}

// evaluateTextQuality scores extracted text on [0,1] using a character
// composition heuristic: reward printable and alphanumeric ratios, penalize
// replacement-character corruption.
func evaluateTextQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0.0
	}
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted int
	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t':
			printable++
		case r == '.' || r == ',' || r == ';' || r == ':' || r == '!' || r == '?' || r == '-' || r == '_':
			printable++
		case r == '�':
			corrupted++
		case r >= 32 && r <= 126:
			printable++
		default:
			if r > 127 {
				printable++
			}
		}
	}

	total := float64(len([]rune(text)))
	alphaRatio := float64(alphanumeric) / total
	printableRatio := float64(printable) / total
	corruptedRatio := float64(corrupted) / total

	score := printableRatio * 0.4
	if alphaRatio >= 0.3 {
		score += 0.3
	} else {
		score += alphaRatio
	}
	score -= corruptedRatio * 2.0
	if len(text) > 100 {
		score += 0.1
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
