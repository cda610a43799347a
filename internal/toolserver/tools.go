package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
	"github.com/nishaddevendra/pdf-qa-core/internal/completion"
	"github.com/nishaddevendra/pdf-qa-core/internal/extractor"
	"github.com/nishaddevendra/pdf-qa-core/internal/retrieval"
)

// ToolDef is one entry of the compile-time tool catalogue: a static schema
// (the mcp.ToolInputSchema shape, reused from mark3labs/mcp-go's type
// definitions) plus its handler. The catalogue itself is a closed set
// built once at startup with no runtime registration.
type ToolDef struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	InputSchema mcp.ToolInputSchema   `json:"input_schema"`
	Required    []string              `json:"-"`
	Handler     Handler               `json:"-"`
}

// ListResult is the tools/list response payload.
type ListResult struct {
	Tools      []ToolDef  `json:"tools"`
	ServerInfo ServerInfo `json:"server_info"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Deps are the collaborators every tool handler needs. Handlers take a
// path directly (the proxy has already resolved a handle to a path); the
// tool server itself never deals in handles.
type Deps struct {
	Extractor            *extractor.Extractor
	Registry              *retrieval.Registry
	Embedder              retrieval.Embedder
	Completion             *completion.Client
	ChunkParams            retrieval.ChunkParams
	TopKDefault            int
	TopKMax                int
	ModelID                string
	FullDocumentCharCeiling int
}

// Catalogue builds the closed tool table, wiring each handler to deps.
func Catalogue(serverName, serverVersion string, deps *Deps) map[string]ToolDef {
	defs := []ToolDef{
		{
			Name:        "extract_pdf_text",
			Description: "Extract the full plain text of a PDF document.",
			InputSchema: stringSchema("pdf_path", "Absolute path to the PDF file"),
			Required:    []string{"pdf_path"},
			Handler:     deps.extractPDFText,
		},
		{
			Name:        "extract_pdf_metadata",
			Description: "Extract title, author, page count, and file size from a PDF document.",
			InputSchema: stringSchema("pdf_path", "Absolute path to the PDF file"),
			Required:    []string{"pdf_path"},
			Handler:     deps.extractPDFMetadata,
		},
		{
			Name:        "search_pdf",
			Description: "Search a PDF's text for an exact needle, returning page, offset and a snippet for each match.",
			InputSchema: searchSchema(),
			Required:    []string{"pdf_path", "needle"},
			Handler:     deps.searchPDF,
		},
		{
			Name:        "answer_question",
			Description: "Answer a question using the full document text in a single pass. Refuses documents above a configured size; prefer answer_question_rag for larger documents.",
			InputSchema: qaSchema(),
			Required:    []string{"pdf_path", "question"},
			Handler:     deps.answerQuestion,
		},
		{
			Name:        "build_index",
			Description: "Build (or reuse, if already cached and still valid) the retrieval index for a PDF, returning its chunk count.",
			InputSchema: stringSchema("pdf_path", "Absolute path to the PDF file"),
			Required:    []string{"pdf_path"},
			Handler:     deps.buildIndex,
		},
		{
			Name:        "delete_index",
			Description: "Delete the retrieval index cached for a PDF, if one exists.",
			InputSchema: stringSchema("pdf_path", "Absolute path to the PDF file"),
			Required:    []string{"pdf_path"},
			Handler:     deps.deleteIndex,
		},
		{
			Name:        "answer_question_rag",
			Description: "Answer a question using retrieval-augmented generation: only the most relevant chunks are sent to the model.",
			InputSchema: ragSchema(),
			Required:    []string{"pdf_path", "question"},
			Handler:     deps.answerQuestionRAG,
		},
		{
			Name:        "answer_multiple_questions_rag",
			Description: "Answer a batch of questions with retrieval-augmented generation. A failure on one question does not fail the others.",
			InputSchema: ragBatchSchema(),
			Required:    []string{"pdf_path", "questions"},
			Handler:     deps.answerMultipleQuestionsRAG,
		},
		{
			Name:        "summarize_document",
			Description: "Produce a concise summary of a document.",
			InputSchema: summarizeSchema(),
			Required:    []string{"pdf_path"},
			Handler:     deps.summarizeDocument,
		},
		{
			Name:        "extract_key_points",
			Description: "Extract an ordered bullet list of a document's key points.",
			InputSchema: stringSchema("pdf_path", "Absolute path to the PDF file"),
			Required:    []string{"pdf_path"},
			Handler:     deps.extractKeyPoints,
		},
	}

	catalogue := make(map[string]ToolDef, len(defs))
	for _, d := range defs {
		catalogue[d.Name] = d
	}
	return catalogue
}

func stringSchema(field, description string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			field: map[string]interface{}{"type": "string", "description": description},
		},
		Required: []string{field},
	}
}

func searchSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"pdf_path":       map[string]interface{}{"type": "string", "description": "Absolute path to the PDF file"},
			"needle":         map[string]interface{}{"type": "string", "description": "Text to search for"},
			"case_sensitive": map[string]interface{}{"type": "boolean", "description": "Match case exactly", "default": false},
		},
		Required: []string{"pdf_path", "needle"},
	}
}

func qaSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"pdf_path":    map[string]interface{}{"type": "string", "description": "Absolute path to the PDF file"},
			"question":    map[string]interface{}{"type": "string", "description": "Natural-language question"},
			"skip_format": map[string]interface{}{"type": "boolean", "description": "Skip the optional markdown-formatting pass over the raw answer", "default": false},
		},
		Required: []string{"pdf_path", "question"},
	}
}

func ragSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"pdf_path":    map[string]interface{}{"type": "string", "description": "Absolute path to the PDF file"},
			"question":    map[string]interface{}{"type": "string", "description": "Natural-language question"},
			"top_k":       map[string]interface{}{"type": "number", "description": "Number of chunks to retrieve (default 3)"},
			"skip_format": map[string]interface{}{"type": "boolean", "description": "Skip the optional markdown-formatting pass over the raw answer", "default": false},
		},
		Required: []string{"pdf_path", "question"},
	}
}

func ragBatchSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"pdf_path":    map[string]interface{}{"type": "string", "description": "Absolute path to the PDF file"},
			"questions":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Questions to answer, in order"},
			"top_k":       map[string]interface{}{"type": "number", "description": "Number of chunks to retrieve per question (default 3)"},
			"skip_format": map[string]interface{}{"type": "boolean", "description": "Skip the optional markdown-formatting pass over each raw answer", "default": false},
		},
		Required: []string{"pdf_path", "questions"},
	}
}

func summarizeSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"pdf_path":   map[string]interface{}{"type": "string", "description": "Absolute path to the PDF file"},
			"max_length": map[string]interface{}{"type": "number", "description": "Target summary length in characters"},
		},
		Required: []string{"pdf_path"},
	}
}

// --- handlers ---

type textArgs struct {
	PDFPath string `json:"pdf_path"`
}

func (d *Deps) extractPDFText(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args textArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}
	result, err := d.Extractor.ExtractText(args.PDFPath)
	if err != nil {
		return nil, toAppErr(err)
	}
	return map[string]any{
		"text":           result.Text,
		"num_pages":      result.NumPages,
		"num_characters": result.NumCharacters,
	}, nil
}

func (d *Deps) extractPDFMetadata(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args textArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}
	meta, err := d.Extractor.Metadata(args.PDFPath)
	if err != nil {
		return nil, toAppErr(err)
	}
	return map[string]any{
		"title":     meta.Title,
		"author":    meta.Author,
		"num_pages": meta.NumPages,
		"file_size": meta.FileSize,
	}, nil
}

type searchArgs struct {
	PDFPath       string `json:"pdf_path"`
	Needle        string `json:"needle"`
	CaseSensitive bool   `json:"case_sensitive"`
}

type searchHit struct {
	Page    int    `json:"page"`
	Offset  int    `json:"offset"`
	Snippet string `json:"snippet"`
}

func (d *Deps) searchPDF(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}
	if args.Needle == "" {
		return nil, apperr.New(apperr.BadInput, "needle")
	}

	pages, err := d.Extractor.ExtractPages(args.PDFPath)
	if err != nil {
		return nil, toAppErr(err)
	}

	needle := args.Needle
	var hits []searchHit
	for pageIdx, text := range pages {
		haystack := text
		n := needle
		if !args.CaseSensitive {
			haystack = strings.ToLower(haystack)
			n = strings.ToLower(n)
		}
		start := 0
		for {
			idx := strings.Index(haystack[start:], n)
			if idx < 0 {
				break
			}
			offset := start + idx
			hits = append(hits, searchHit{
				Page:    pageIdx + 1,
				Offset:  offset,
				Snippet: snippet(text, offset, len(needle)),
			})
			start = offset + len(n)
		}
	}
	return hits, nil
}

func snippet(text string, offset, matchLen int) string {
	const radius = 40
	start := offset - radius
	if start < 0 {
		start = 0
	}
	end := offset + matchLen + radius
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

type qaArgs struct {
	PDFPath    string `json:"pdf_path"`
	Question   string `json:"question"`
	SkipFormat bool   `json:"skip_format"`
}

func (d *Deps) answerQuestion(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args qaArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}
	if args.Question == "" {
		return nil, apperr.New(apperr.BadInput, "question")
	}

	result, err := d.Extractor.ExtractText(args.PDFPath)
	if err != nil {
		return nil, toAppErr(err)
	}
	if d.FullDocumentCharCeiling > 0 && result.NumCharacters > d.FullDocumentCharCeiling {
		return nil, apperr.Newf(apperr.BadInput, "document has %d characters, exceeding the %d-character ceiling for answer_question; use answer_question_rag instead", result.NumCharacters, d.FullDocumentCharCeiling)
	}

	prompt := fmt.Sprintf("Answer the question using only the document text below.\n\nDocument:\n%s\n\nQuestion: %s", result.Text, args.Question)
	answer, err := d.Completion.Answer(ctx, prompt, completion.Params{ModelID: d.ModelID})
	if err != nil {
		return nil, toAppErr(err)
	}
	answerText := answer.Text
	if !args.SkipFormat {
		answerText, _ = d.Completion.Format(ctx, answerText, completion.Params{ModelID: d.ModelID})
	}
	return map[string]any{
		"answer_text": answerText,
		"model_id":    answer.ModelID,
		"token_usage": answer.TokenUsage,
	}, nil
}

type ragArgs struct {
	PDFPath    string `json:"pdf_path"`
	Question   string `json:"question"`
	TopK       int    `json:"top_k"`
	SkipFormat bool   `json:"skip_format"`
}

func (d *Deps) answerQuestionRAG(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args ragArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}
	if args.Question == "" {
		return nil, apperr.New(apperr.BadInput, "question")
	}

	answer, appErr := d.answerOneRAG(ctx, args.PDFPath, args.Question, args.TopK, args.SkipFormat)
	if appErr != nil {
		return nil, appErr
	}
	return answer, nil
}

// buildIndex builds (or loads, if the cached manifest still matches) the
// retrieval index for pdf_path and reports how many chunks it holds, so the
// proxy can surface num_chunks at upload time without a throwaway question.
func (d *Deps) buildIndex(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args textArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}

	documentID := documentIDFromPath(args.PDFPath)
	index, err := d.Registry.GetOrBuild(ctx, documentID, func() (string, error) {
		result, err := d.Extractor.ExtractText(args.PDFPath)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	})
	if err != nil {
		return nil, toAppErr(err)
	}
	return map[string]any{
		"document_id": documentID,
		"num_chunks":  len(index.Chunks),
	}, nil
}

// deleteIndex removes the cached retrieval index for pdf_path, if any. It is
// a no-op, not an error, when no index was ever built for this document.
func (d *Deps) deleteIndex(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args textArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}

	documentID := documentIDFromPath(args.PDFPath)
	if err := d.Registry.Delete(documentID); err != nil {
		return nil, toAppErr(err)
	}
	return map[string]any{"document_id": documentID}, nil
}

func (d *Deps) answerOneRAG(ctx context.Context, pdfPath, question string, topK int, skipFormat bool) (map[string]any, *apperr.Error) {
	topK = clampTopK(topK, d.TopKDefault, d.TopKMax)

	documentID := documentIDFromPath(pdfPath)
	index, err := d.Registry.GetOrBuild(ctx, documentID, func() (string, error) {
		result, err := d.Extractor.ExtractText(pdfPath)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	})
	if err != nil {
		return nil, toAppErr(err)
	}

	queryVecs, err := d.Embedder.EmbedBatch(ctx, []string{question})
	if err != nil {
		return nil, toAppErr(err)
	}

	scored := index.Search(queryVecs[0], topK)
	prompt := retrieval.AssemblePrompt(question, scored)

	answer, err := d.Completion.Answer(ctx, prompt, completion.Params{ModelID: d.ModelID})
	if err != nil {
		return nil, toAppErr(err)
	}

	answerText := answer.Text
	if !skipFormat {
		// the formatting pass is skippable and its failure is swallowed by
		// Format itself, which falls back to the raw answer.
		answerText, _ = d.Completion.Format(ctx, answerText, completion.Params{ModelID: d.ModelID})
	}

	return map[string]any{
		"answer_text": answerText,
		"model_id":    answer.ModelID,
		"token_usage": answer.TokenUsage,
	}, nil
}

func clampTopK(requested, def, max int) int {
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}

type ragBatchArgs struct {
	PDFPath    string   `json:"pdf_path"`
	Questions  []string `json:"questions"`
	TopK       int      `json:"top_k"`
	SkipFormat bool     `json:"skip_format"`
}

type batchResult struct {
	Question string        `json:"question"`
	Answer   map[string]any `json:"answer,omitempty"`
	Error    *apperr.Error  `json:"error,omitempty"`
}

// answerMultipleQuestionsRAG never fails the whole batch on one question's
// failure: each result entry carries either an answer or an error.
func (d *Deps) answerMultipleQuestionsRAG(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args ragBatchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}
	if len(args.Questions) == 0 {
		return nil, apperr.New(apperr.BadInput, "questions")
	}

	results := make([]batchResult, len(args.Questions))
	for i, q := range args.Questions {
		answer, appErr := d.answerOneRAG(ctx, args.PDFPath, q, args.TopK, args.SkipFormat)
		results[i] = batchResult{Question: q, Answer: answer, Error: appErr}
	}
	return results, nil
}

type summarizeArgs struct {
	PDFPath   string `json:"pdf_path"`
	MaxLength int    `json:"max_length"`
}

func (d *Deps) summarizeDocument(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args summarizeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}

	result, err := d.Extractor.ExtractText(args.PDFPath)
	if err != nil {
		return nil, toAppErr(err)
	}

	maxLen := args.MaxLength
	if maxLen <= 0 {
		maxLen = 500
	}
	prompt := fmt.Sprintf("Summarize the following document in at most %d characters:\n\n%s", maxLen, result.Text)
	answer, err := d.Completion.Answer(ctx, prompt, completion.Params{ModelID: d.ModelID})
	if err != nil {
		return nil, toAppErr(err)
	}
	return answer.Text, nil
}

func (d *Deps) extractKeyPoints(ctx context.Context, raw json.RawMessage) (any, *apperr.Error) {
	var args textArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}

	result, err := d.Extractor.ExtractText(args.PDFPath)
	if err != nil {
		return nil, toAppErr(err)
	}

	prompt := fmt.Sprintf("List the key points of the following document as a concise ordered bullet list, one point per line, no commentary:\n\n%s", result.Text)
	answer, err := d.Completion.Answer(ctx, prompt, completion.Params{ModelID: d.ModelID})
	if err != nil {
		return nil, toAppErr(err)
	}

	lines := strings.Split(strings.TrimSpace(answer.Text), "\n")
	var points []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimLeft(l, "-*•0123456789. ")
		if l != "" {
			points = append(points, l)
		}
	}
	return map[string]any{
		"points":   points,
		"keywords": retrieval.ExtractKeywords(result.Text, 10),
	}, nil
}

func toAppErr(err error) *apperr.Error {
	if ae, ok := apperr.As(err); ok {
		return ae
	}
	if le, ok := err.(*extractor.LowYieldError); ok {
		return apperr.New(apperr.LowYield, le.Error())
	}
	return apperr.New(apperr.Internal, err.Error())
}

// documentIDFromPath derives the registry cache key: the pdf_id (the file's
// base name, assigned by the proxy at upload time) combined with a content
// fingerprint of the bytes on disk. A re-upload under the same handle with
// different bytes therefore gets a fresh index instead of silently reusing
// a stale one.
func documentIDFromPath(path string) string {
	base := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return base
	}
	return base + "-" + retrieval.ContentFingerprint(data)
}
