package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

// QuestionHandler handles HTTP requests for catalog questions
type QuestionHandler struct {
	service allocengine.Service
}

// NewQuestionHandler creates a new question handler
func NewQuestionHandler(service allocengine.Service) *QuestionHandler {
	return &QuestionHandler{service: service}
}

// Routes returns the routes for questions
func (h *QuestionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateQuestion)
	r.Get("/", h.ListQuestions)
	r.Get("/{id}", h.GetQuestion)
	r.Put("/{id}", h.UpdateQuestion)
	r.Delete("/{id}", h.DeleteQuestion)

	return r
}

// CreateQuestionRequest is the request body for creating a question
type CreateQuestionRequest struct {
	CategoryID string `json:"category_id,omitempty"`
	Text       string `json:"text"`
}

// UpdateQuestionRequest is the request body for updating a question
type UpdateQuestionRequest struct {
	CategoryID string `json:"category_id,omitempty"`
	Text       string `json:"text"`
	Status     string `json:"status"`
}

// QuestionResponse is the response body for a question
type QuestionResponse struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"category_id,omitempty"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toQuestionResponse(q *allocengine.Question) QuestionResponse {
	resp := QuestionResponse{
		ID:        q.ID.String(),
		Text:      q.Text,
		Status:    string(q.Status),
		CreatedAt: q.CreatedAt,
		UpdatedAt: q.UpdatedAt,
	}
	if q.CategoryID != nil {
		resp.CategoryID = q.CategoryID.String()
	}
	return resp
}

// CreateQuestion creates a new catalog question
func (h *QuestionHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	createReq := allocengine.CreateQuestionRequest{Text: req.Text}
	if req.CategoryID != "" {
		categoryID, err := uuid.Parse(req.CategoryID)
		if err != nil {
			slog.Error("Invalid category ID", "category_id", req.CategoryID, "error", err)
			http.Error(w, "Invalid category ID", http.StatusBadRequest)
			return
		}
		createReq.CategoryID = &categoryID
	}

	question, err := h.service.CreateQuestion(r.Context(), createReq)
	if err != nil {
		slog.Error("Failed to create question", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toQuestionResponse(question))
}

// GetQuestion returns a question by ID
func (h *QuestionHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	question, err := h.service.GetQuestion(r.Context(), id)
	if err != nil {
		if errors.Is(err, allocengine.ErrQuestionNotFound) {
			http.Error(w, "Question not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get question", "question_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, toQuestionResponse(question))
}

// UpdateQuestion updates a question's text, category or status
func (h *QuestionHandler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	var req UpdateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	question, err := h.service.GetQuestion(r.Context(), id)
	if err != nil {
		if errors.Is(err, allocengine.ErrQuestionNotFound) {
			http.Error(w, "Question not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get question", "question_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if req.Text != "" {
		question.Text = req.Text
	}
	if req.Status != "" {
		question.Status = allocengine.QuestionStatus(req.Status)
	}
	if req.CategoryID != "" {
		categoryID, err := uuid.Parse(req.CategoryID)
		if err != nil {
			http.Error(w, "Invalid category ID", http.StatusBadRequest)
			return
		}
		question.CategoryID = &categoryID
	}

	if err := h.service.UpdateQuestion(r.Context(), allocengine.UpdateQuestionRequest{Question: question}); err != nil {
		slog.Error("Failed to update question", "question_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	render.JSON(w, r, toQuestionResponse(question))
}

// DeleteQuestion soft-deletes a question
func (h *QuestionHandler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteQuestion(r.Context(), id); err != nil {
		if errors.Is(err, allocengine.ErrQuestionNotFound) {
			http.Error(w, "Question not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to delete question", "question_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListQuestions returns non-deleted questions, optionally filtered by category
func (h *QuestionHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	var categoryID *uuid.UUID
	if v := r.URL.Query().Get("category_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "Invalid category ID", http.StatusBadRequest)
			return
		}
		categoryID = &id
	}

	questions, err := h.service.ListQuestions(r.Context(), categoryID)
	if err != nil {
		slog.Error("Failed to list questions", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]QuestionResponse, 0, len(questions))
	for _, q := range questions {
		resp = append(resp, toQuestionResponse(q))
	}
	render.JSON(w, r, resp)
}
