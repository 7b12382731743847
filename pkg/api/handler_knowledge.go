package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/knowledge/learn"
	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/metrics"
	"github.com/hearth-ai/assistant/pkg/models"
)

// searchHitDTO is one ranked result as returned by /api/search and /api/consult.
type searchHitDTO struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Concepts   []string `json:"concepts"`
	Project    string   `json:"project,omitempty"`
	Layer      string   `json:"layer"`
	Score      float64  `json:"score"`
	LexicalHit bool     `json:"lexical_hit"`
	VectorHit  bool     `json:"vector_hit"`
}

func dtoFromResult(r search.Result) searchHitDTO {
	return searchHitDTO{
		ID:         r.Document.ID,
		Type:       string(r.Document.Type),
		Title:      r.Document.Title,
		Content:    r.Document.Content,
		Concepts:   r.Document.Concepts,
		Project:    r.Document.Project,
		Layer:      string(r.Document.Layer),
		Score:      r.FinalScore,
		LexicalHit: r.LexicalHit,
		VectorHit:  r.VectorHit,
	}
}

// GET /api/search?q&type&limit&mode&project&layer
func (s *Server) searchHandler(c *echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return writeError(c, apperrors.ErrBadInput)
	}

	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	mode := search.ModeHybrid
	if raw := c.QueryParam("mode"); raw != "" {
		mode = search.Mode(raw)
	}

	timer := metrics.NewTimer()
	results, err := s.searchEngine.Search(c.Request().Context(), search.Query{
		Text:              q,
		TypeFilter:        c.QueryParam("type"),
		Limit:             limit,
		Mode:              mode,
		ProjectFilter:     c.QueryParam("project"),
		MemoryLayerFilter: c.QueryParam("layer"),
	})
	timer.ObserveDuration(metrics.KnowledgeSearchDuration)
	if err != nil {
		return writeError(c, err)
	}

	hits := make([]searchHitDTO, len(results))
	for i, r := range results {
		hits[i] = dtoFromResult(r)
	}
	return c.JSON(http.StatusOK, hits)
}

// consultDefaultLimit bounds the lighter-weight /api/consult lookup, which
// takes only a query string and is meant for a quick top-of-mind check
// rather than a filtered browse.
const consultDefaultLimit = 5

// GET /api/consult?q
func (s *Server) consultHandler(c *echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return writeError(c, apperrors.ErrBadInput)
	}

	timer := metrics.NewTimer()
	results, err := s.searchEngine.Search(c.Request().Context(), search.Query{
		Text:  q,
		Limit: consultDefaultLimit,
		Mode:  search.ModeHybrid,
	})
	timer.ObserveDuration(metrics.KnowledgeSearchDuration)
	if err != nil {
		return writeError(c, err)
	}

	hits := make([]searchHitDTO, len(results))
	for i, r := range results {
		hits[i] = dtoFromResult(r)
	}
	return c.JSON(http.StatusOK, hits)
}

// learnRequest is the JSON body of POST /api/learn (spec §6).
type learnRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Concepts []string `json:"concepts"`
	Project  string   `json:"project,omitempty"`
	Layer    string   `json:"layer,omitempty"`
}

type learnResponse struct {
	ID string `json:"id"`
}

// POST /api/learn {title, content, concepts, project?, layer?}
func (s *Server) learnHandler(c *echo.Context) error {
	var req learnRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.ErrBadInput)
	}
	if req.Content == "" || req.Title == "" {
		return writeError(c, apperrors.ErrBadInput)
	}

	id, err := s.learnService.Learn(c.Request().Context(), learn.LearnInput{
		Type:     models.DocTypeLearning,
		Title:    req.Title,
		Content:  req.Content,
		Concepts: req.Concepts,
		Project:  req.Project,
		Layer:    models.MemoryLayer(req.Layer),
		GroupID:  "api",
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, learnResponse{ID: id})
}

// DELETE /api/doc/:id — forgets a document written through the learn API.
// The bearer-token caller carries no group identity of its own, so it is
// treated as the same non-elevated "api" group learnHandler writes under;
// only the in-process main-group write path (orchestrator conversation
// summaries) gets the elevated deletion right.
func (s *Server) forgetHandler(c *echo.Context) error {
	if err := s.learnService.Forget(c.Request().Context(), c.Param("id"), "api", false); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// docDTO is the full document payload for GET /api/doc/:id.
type docDTO struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Concepts     []string `json:"concepts"`
	Project      string   `json:"project,omitempty"`
	Layer        string   `json:"layer"`
	CreatedBy    string   `json:"created_by"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	SupersededBy string   `json:"superseded_by,omitempty"`
}

func dtoFromDocument(d models.Document) docDTO {
	return docDTO{
		ID:           d.ID,
		Type:         string(d.Type),
		Title:        d.Title,
		Content:      d.Content,
		Concepts:     d.Concepts,
		Project:      d.Project,
		Layer:        string(d.Layer),
		CreatedBy:    string(d.CreatedBy),
		CreatedAt:    d.CreatedAt.Format(timeFormat),
		UpdatedAt:    d.UpdatedAt.Format(timeFormat),
		SupersededBy: d.SupersededBy,
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// GET /api/doc/:id
func (s *Server) docHandler(c *echo.Context) error {
	id := c.Param("id")
	doc, err := s.store.GetDocument(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
	}
	if err := s.store.TouchAccess(c.Request().Context(), id, doc.UpdatedAt); err != nil {
		// access-tracking failure never blocks the read
		_ = err
	}
	return c.JSON(http.StatusOK, dtoFromDocument(doc))
}

// GET /api/list?type&limit&offset
func (s *Server) listHandler(c *echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	docs, err := s.store.ListDocuments(c.Request().Context(), models.DocumentType(c.QueryParam("type")), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]docDTO, len(docs))
	for i, d := range docs {
		out[i] = dtoFromDocument(d)
	}
	return c.JSON(http.StatusOK, out)
}

// supersessionDTO is one entry of a document's supersession history.
type supersessionDTO struct {
	OldDocID string `json:"old_doc_id"`
	NewDocID string `json:"new_doc_id"`
	Reason   string `json:"reason"`
	At       string `json:"at"`
	By       string `json:"by"`
}

// GET /api/doc/:id/supersessions — the chain of supersession events
// recorded against a document (spec §3 Supersession entity).
func (s *Server) supersessionsHandler(c *echo.Context) error {
	history, err := s.store.SupersessionHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	out := make([]supersessionDTO, len(history))
	for i, h := range history {
		out[i] = supersessionDTO{
			OldDocID: h.OldDocID,
			NewDocID: h.NewDocID,
			Reason:   h.Reason,
			At:       h.At.Format(timeFormat),
			By:       h.By,
		}
	}
	return c.JSON(http.StatusOK, out)
}

// statsResponse is the payload of GET /api/stats.
type statsResponse struct {
	TotalDocuments int            `json:"total_documents"`
	ByType         map[string]int `json:"by_type"`
}

// GET /api/stats
func (s *Server) statsHandler(c *echo.Context) error {
	counts, err := s.store.DocumentCounts(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	byType := make(map[string]int, len(counts))
	total := 0
	for t, n := range counts {
		byType[string(t)] = n
		total += n
	}
	return c.JSON(http.StatusOK, statsResponse{TotalDocuments: total, ByType: byType})
}
