package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
	"github.com/sakif/journal/internal/service"
)

// NoteHandler exposes NoteService over HTTP. Every route is behind
// RequireAuth; the user id always comes from the session, never from the
// request.
type NoteHandler struct {
	notes  *service.NoteService
	logger *slog.Logger
}

func NewNoteHandler(notes *service.NoteService, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{notes: notes, logger: logger}
}

type createNoteRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Favourite bool   `json:"favourite"`
	IsDiary   bool   `json:"isDiary"`
}

// updateNoteRequest uses pointers so "absent" and "zero" differ:
// {"favourite": false} clears the flag, {} leaves it alone.
type updateNoteRequest struct {
	Title          *string `json:"title"`
	Content        *string `json:"content"`
	Favourite      *bool   `json:"favourite"`
	IsDiary        *bool   `json:"isDiary"`
	BaseUpdateTime *int64  `json:"baseUpdateTime"`
}

type overviewPage struct {
	Notes []model.NoteOverview `json:"notes"`
	More  bool                 `json:"more"`
}

// HandleList returns a page of the user's notes, most recently updated first.
//
// HTTP: GET /api/notes?limit=20&offset=0&diary=true&favourite=true&overview=true
//
// overview=true leaves out the content of every note.
func (h *NoteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := h.notes.List(r.Context(), userID, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if opts.WithoutContent {
		out := overviewPage{Notes: make([]model.NoteOverview, 0, len(page.Notes)), More: page.More}
		for i := range page.Notes {
			out.Notes = append(out.Notes, page.Notes[i].Overview())
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseListOptions(r *http.Request) (repository.ListOptions, error) {
	q := r.URL.Query()
	var opts repository.ListOptions

	ints := []struct {
		name string
		dst  *int
	}{
		{"limit", &opts.Limit},
		{"offset", &opts.Offset},
	}
	for _, p := range ints {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return opts, apperror.ValidationFailed(p.name, fmt.Sprintf("%s must be a number", p.name))
			}
			*p.dst = n
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"diary", &opts.DiaryOnly},
		{"favourite", &opts.FavouritesOnly},
		{"overview", &opts.WithoutContent},
	}
	for _, p := range bools {
		if v := q.Get(p.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, apperror.ValidationFailed(p.name, fmt.Sprintf("%s must be true or false", p.name))
			}
			*p.dst = b
		}
	}
	return opts, nil
}

// HandleCreate saves a new note.
//
// HTTP: POST /api/notes
// REQUEST BODY: {"title": "...", "content": "...", "favourite": false, "isDiary": false}
func (h *NoteHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var in createNoteRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	note, err := h.notes.Create(r.Context(), userID, service.NoteInput{
		Title:     in.Title,
		Content:   in.Content,
		Favourite: in.Favourite,
		IsDiary:   in.IsDiary,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, note)
}

// HandleGet returns one note with its content.
//
// HTTP: GET /api/notes/{id}
func (h *NoteHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	note, err := h.notes.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// HandleGetOverview returns one note without its content.
//
// HTTP: GET /api/notes/{id}/overview
func (h *NoteHandler) HandleGetOverview(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	overview, err := h.notes.GetOverview(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// HandleUpdate applies a partial update.
//
// HTTP: PATCH /api/notes/{id} (PUT is accepted too)
// REQUEST BODY: any subset of {"title", "content", "favourite", "isDiary"},
// plus optionally "baseUpdateTime": the updateTime the client last read.
// If someone else wrote in between, the response is 409 and nothing changes.
func (h *NoteHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var in updateNoteRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	note, err := h.notes.Update(r.Context(), id, userID, service.NoteUpdate{
		Title:          in.Title,
		Content:        in.Content,
		Favourite:      in.Favourite,
		IsDiary:        in.IsDiary,
		BaseUpdateTime: in.BaseUpdateTime,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// HandleSetFavourite sets or clears the favourite flag.
//
// HTTP: PUT /api/notes/{id}/favourite
// REQUEST BODY: {"favourite": true}
func (h *NoteHandler) HandleSetFavourite(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var in struct {
		Favourite *bool `json:"favourite"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if in.Favourite == nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("favourite", "favourite is required"))
		return
	}

	note, err := h.notes.SetFavourite(r.Context(), id, userID, *in.Favourite)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// HandleDelete removes a note and releases the images it embedded.
//
// HTTP: DELETE /api/notes/{id}
func (h *NoteHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.notes.Delete(r.Context(), id, userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
