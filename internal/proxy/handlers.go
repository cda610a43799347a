package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
)

// Server wires the HTTP surface to the supervisor and handle registry.
type Server struct {
	supervisor *Supervisor
	handles    *HandleRegistry
	maxUpload  int64
}

func NewServer(supervisor *Supervisor, handles *HandleRegistry, maxUpload int64) *Server {
	return &Server{supervisor: supervisor, handles: handles, maxUpload: maxUpload}
}

func (s *Server) Routes(r *gin.Engine) {
	r.GET("/", s.health)
	r.POST("/upload", s.upload)
	r.POST("/ask/:pdf_id", s.ask)
	r.POST("/ask-multiple/:pdf_id", s.askMultiple)
	r.GET("/pdfs", s.listPDFs)
	r.DELETE("/pdf/:pdf_id", s.deletePDF)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"child_state":    s.supervisor.State(),
		"restart_count":  s.supervisor.RestartCount(),
	})
}

func (s *Server) upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondErr(c, apperr.New(apperr.BadInput, "multipart field 'file' is required"))
		return
	}
	if fileHeader.Size > s.maxUpload {
		respondErrWithStatus(c, http.StatusRequestEntityTooLarge, apperr.Newf(apperr.BadInput, "file exceeds maximum upload size of %d bytes", s.maxUpload))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondErr(c, apperr.Newf(apperr.Internal, "opening upload: %v", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		respondErr(c, apperr.Newf(apperr.Internal, "reading upload: %v", err))
		return
	}
	if !looksLikePDF(data) {
		respondErr(c, apperr.New(apperr.BadInput, "uploaded file is not a PDF"))
		return
	}

	entry, err := s.handles.Register(fileHeader.Filename, data)
	if err != nil {
		respondErr(c, err)
		return
	}

	result, err := s.supervisor.CallTool(c.Request.Context(), "extract_pdf_text", map[string]any{"pdf_path": entry.Path})
	if err != nil {
		respondErr(c, err)
		return
	}
	var extracted struct {
		NumPages      int `json:"num_pages"`
		NumCharacters int `json:"num_characters"`
	}
	_ = json.Unmarshal(result, &extracted)

	indexResult, err := s.supervisor.CallTool(c.Request.Context(), "build_index", map[string]any{"pdf_path": entry.Path})
	if err != nil {
		respondErr(c, err)
		return
	}
	var indexed struct {
		NumChunks int `json:"num_chunks"`
	}
	_ = json.Unmarshal(indexResult, &indexed)

	c.JSON(http.StatusOK, gin.H{
		"pdf_id":     entry.Handle,
		"filename":   entry.Filename,
		"num_pages":  extracted.NumPages,
		"num_chunks": indexed.NumChunks,
		"message":    "uploaded",
	})
}

func looksLikePDF(data []byte) bool {
	return len(data) >= 4 && data[0] == 0x25 && data[1] == 0x50 && data[2] == 0x44 && data[3] == 0x46
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) ask(c *gin.Context) {
	handle := c.Param("pdf_id")
	entry, err := s.handles.Resolve(handle)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.New(apperr.BadInput, "request body must be valid JSON"))
		return
	}
	if req.Question == "" {
		respondErrWithStatus(c, http.StatusUnprocessableEntity, apperr.New(apperr.BadInput, "question must be a non-empty string"))
		return
	}

	start := time.Now()
	result, err := s.supervisor.CallTool(c.Request.Context(), "answer_question_rag", map[string]any{
		"pdf_path": entry.Path,
		"question": req.Question,
	})
	elapsed := time.Since(start)

	if err != nil {
		respondErr(c, err)
		return
	}

	var answer struct {
		AnswerText string `json:"answer_text"`
		ModelID    string `json:"model_id"`
		TokenUsage int    `json:"token_usage"`
	}
	_ = json.Unmarshal(result, &answer)

	c.JSON(http.StatusOK, gin.H{
		"pdf_id": handle,
		"answers": []gin.H{{
			"question": req.Question,
			"answer":   answer.AnswerText,
			"model":    answer.ModelID,
			"usage":    answer.TokenUsage,
		}},
		"processing_time": elapsed.String(),
	})
}

type askMultipleRequest struct {
	Questions []string `json:"questions"`
}

func (s *Server) askMultiple(c *gin.Context) {
	handle := c.Param("pdf_id")
	entry, err := s.handles.Resolve(handle)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req askMultipleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.New(apperr.BadInput, "request body must be valid JSON"))
		return
	}
	if len(req.Questions) == 0 {
		respondErrWithStatus(c, http.StatusUnprocessableEntity, apperr.New(apperr.BadInput, "questions must be a non-empty array"))
		return
	}

	start := time.Now()
	result, err := s.supervisor.CallTool(c.Request.Context(), "answer_multiple_questions_rag", map[string]any{
		"pdf_path":  entry.Path,
		"questions": req.Questions,
	})
	elapsed := time.Since(start)

	if err != nil {
		respondErr(c, err)
		return
	}

	var batch []struct {
		Question string `json:"question"`
		Answer   *struct {
			AnswerText string `json:"answer_text"`
			ModelID    string `json:"model_id"`
			TokenUsage int    `json:"token_usage"`
		} `json:"answer"`
		Error *apperr.Error `json:"error"`
	}
	_ = json.Unmarshal(result, &batch)

	answers := make([]gin.H, len(batch))
	for i, b := range batch {
		entry := gin.H{"question": b.Question}
		if b.Answer != nil {
			entry["answer"] = b.Answer.AnswerText
			entry["model"] = b.Answer.ModelID
			entry["usage"] = b.Answer.TokenUsage
		} else if b.Error != nil {
			entry["error"] = gin.H{"kind": b.Error.Kind, "detail": b.Error.Detail}
		}
		answers[i] = entry
	}

	c.JSON(http.StatusOK, gin.H{
		"pdf_id":           handle,
		"answers":          answers,
		"processing_time":  elapsed.String(),
	})
}

func (s *Server) listPDFs(c *gin.Context) {
	entries := s.handles.List()
	out := make([]gin.H, len(entries))
	for i, e := range entries {
		out[i] = gin.H{
			"pdf_id":      e.Handle,
			"filename":    e.Filename,
			"uploaded_at": e.UploadedAt,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deletePDF(c *gin.Context) {
	handle := c.Param("pdf_id")
	entry, err := s.handles.Resolve(handle)
	if err != nil {
		respondErr(c, err)
		return
	}

	// cascade to the retrieval index first, while the uploaded file this
	// tool derives its document ID from still exists on disk.
	if _, err := s.supervisor.CallTool(c.Request.Context(), "delete_index", map[string]any{"pdf_path": entry.Path}); err != nil {
		respondErr(c, err)
		return
	}

	if err := s.handles.Delete(handle); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": handle})
}

// respondErr maps a structured apperr.Error to its HTTP status. Any other
// error is treated as internal.
func respondErr(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.New(apperr.Internal, err.Error())
	}
	c.JSON(ae.Kind.HTTPStatus(), gin.H{
		"kind":    ae.Kind,
		"message": ae.Detail,
	})
}

// respondErrWithStatus behaves like respondErr but overrides the status
// Kind.HTTPStatus() would otherwise pick. Used for endpoint-specific
// statuses (413 on oversized upload, 422 on an empty question) that don't
// warrant a dedicated error kind of their own.
func respondErrWithStatus(c *gin.Context, status int, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.New(apperr.Internal, err.Error())
	}
	c.JSON(status, gin.H{
		"kind":    ae.Kind,
		"message": ae.Detail,
	})
}
