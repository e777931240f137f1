package polling

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/auth"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/router"
	"github.com/Tyrowin/roomhub/internal/store"
)

const maxBodyBytes = 16 << 10

// Polls is the poll and question side of the durable store.
type Polls interface {
	CreatePoll(ctx context.Context, p *store.Poll) error
	GetPoll(ctx context.Context, id int64) (*store.Poll, error)
	VoteTallies(ctx context.Context, p *store.Poll) ([]int64, error)
	CountUserVotes(ctx context.Context, pollID, userID int64) (int64, error)
	QuestionsBySession(ctx context.Context, sessionID int64, status string) ([]store.QAQuestion, error)
}

// Moderator lifts sanctions.
type Moderator interface {
	Clear(ctx context.Context, roomID, userID int64) error
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// PullResponse answers GET /api/chat.
type PullResponse struct {
	Success  bool             `json:"success"`
	Messages []event.Outbound `json:"messages"`
	LastID   int64            `json:"last_id"`
}

// PushRequest is the body of POST /api/chat.
type PushRequest struct {
	Message string `json:"message"`
	RoomID  int64  `json:"room_id"`
}

// PushResponse answers POST /api/chat.
type PushResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

// VoteRequest is the body of POST /api/polls/{id}/votes.
type VoteRequest struct {
	OptionIndex *int  `json:"option_index"`
	RoomID      int64 `json:"room_id"`
}

// CreatePollRequest is the body of POST /api/polls. Either EndsAt or
// DurationSeconds sets the deadline.
type CreatePollRequest struct {
	RoomID          int64     `json:"room_id"`
	Title           string    `json:"title"`
	Options         []string  `json:"options"`
	MultipleChoice  bool      `json:"multiple_choice"`
	VotePolicy      string    `json:"vote_policy"`
	EndsAt          time.Time `json:"ends_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

// PollView is a poll with its current tallies.
type PollView struct {
	ID             int64     `json:"id"`
	RoomID         int64     `json:"room_id"`
	Title          string    `json:"title"`
	Options        []string  `json:"options"`
	Status         string    `json:"status"`
	MultipleChoice bool      `json:"multiple_choice"`
	VotePolicy     string    `json:"vote_policy"`
	EndsAt         time.Time `json:"ends_at"`
	Counts         []int64   `json:"counts"`
	TotalVotes     int64     `json:"total_votes"`
	MyVotes        int64     `json:"my_votes"`
}

// PollResponse wraps a PollView.
type PollResponse struct {
	Success bool     `json:"success"`
	Poll    PollView `json:"poll"`
}

// QuestionRequest is the body of POST /api/questions.
type QuestionRequest struct {
	Question  string `json:"question"`
	SessionID int64  `json:"session_id"`
	RoomID    int64  `json:"room_id"`
}

// QuestionResponse answers POST /api/questions.
type QuestionResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id"`
	Status  string `json:"status"`
}

// QuestionsResponse answers GET /api/questions.
type QuestionsResponse struct {
	Success   bool               `json:"success"`
	Questions []store.QAQuestion `json:"questions"`
}

// MessageResponse answers GET /api/chat/{id}.
type MessageResponse struct {
	Success bool           `json:"success"`
	Message event.Outbound `json:"message"`
}

// PollStatusRequest is the body of POST /api/polls/{id}/status.
type PollStatusRequest struct {
	Status string `json:"status"`
}

// Handler serves the polling HTTP surface.
type Handler struct {
	adapter *Adapter
	router  *router.Router
	polls   Polls
	mod     Moderator
	log     zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(adapter *Adapter, rt *router.Router, polls Polls, mod Moderator, log zerolog.Logger) *Handler {
	return &Handler{
		adapter: adapter,
		router:  rt,
		polls:   polls,
		mod:     mod,
		log:     log.With().Str("component", "polling_http").Logger(),
	}
}

// Routes mounts the polling endpoints on r. Callers put auth.Middleware and
// auth.RequireIdentity in front of them.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/chat", h.Pull)
	r.Post("/chat", h.Push)
	r.Get("/chat/{id}", h.GetMessage)
	r.Post("/polls", h.CreatePoll)
	r.Get("/polls/{id}", h.GetPoll)
	r.Post("/polls/{id}/status", h.SetPollStatus)
	r.Post("/polls/{id}/votes", h.Vote)
	r.Get("/questions", h.Questions)
	r.Post("/questions", h.Question)
	r.Delete("/rooms/{room_id}/sanctions/{user_id}", h.ClearSanctions)
}

// Pull handles GET /api/chat?since=&limit=&room_id=.
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err1 := queryInt(q.Get("since"))
	limit, err2 := queryInt(q.Get("limit"))
	roomID, err3 := queryInt(q.Get("room_id"))
	if err1 != nil || err2 != nil || err3 != nil {
		h.fail(w, apperr.Validation("since, limit and room_id must be integers"))
		return
	}

	msgs, err := h.adapter.PullSince(r.Context(), roomID, since, int(limit))
	if err != nil {
		h.fail(w, err)
		return
	}

	lastID := since
	if n := len(msgs); n > 0 {
		lastID = msgs[n-1].ID
	}
	writeJSON(w, http.StatusOK, PullResponse{Success: true, Messages: msgs, LastID: lastID})
}

// Push handles POST /api/chat.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	who, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}

	var req PushRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	id, err := h.adapter.PushMessage(r.Context(), req.RoomID, who, req.Message)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PushResponse{Success: true, ID: id})
}

// GetMessage handles GET /api/chat/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, apperr.Validation("invalid message id"))
		return
	}
	msg, err := h.adapter.Message(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: msg})
}

// CreatePoll handles POST /api/polls. Only privileged roles may create
// polls.
func (h *Handler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	who, ok := h.privileged(w, r)
	if !ok {
		return
	}

	var req CreatePollRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	endsAt := req.EndsAt
	if endsAt.IsZero() && req.DurationSeconds > 0 {
		endsAt = time.Now().Add(time.Duration(req.DurationSeconds) * time.Second)
	}

	p := &store.Poll{
		RoomID:         req.RoomID,
		Title:          req.Title,
		Options:        req.Options,
		MultipleChoice: req.MultipleChoice,
		VotePolicy:     req.VotePolicy,
		EndsAt:         endsAt,
	}
	if err := h.polls.CreatePoll(r.Context(), p); err != nil {
		h.fail(w, err)
		return
	}

	h.log.Info().Int64("poll_id", p.ID).Int64("room_id", p.RoomID).Int64("user_id", who.UserID).Msg("poll created")
	writeJSON(w, http.StatusCreated, PollResponse{Success: true, Poll: view(p, make([]int64, len(p.Options)))})
}

// GetPoll handles GET /api/polls/{id}. my_votes is how many votes the
// caller holds on the poll.
func (h *Handler) GetPoll(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, apperr.Validation("invalid poll id"))
		return
	}

	p, err := h.polls.GetPoll(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	counts, err := h.polls.VoteTallies(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	v := view(p, counts)
	if who, ok := auth.FromContext(r.Context()); ok {
		if v.MyVotes, err = h.polls.CountUserVotes(r.Context(), p.ID, who.UserID); err != nil {
			h.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, PollResponse{Success: true, Poll: v})
}

// SetPollStatus handles POST /api/polls/{id}/status. Moderators use it to
// end or cancel a poll early; votes on a poll that is not active are
// refused.
func (h *Handler) SetPollStatus(w http.ResponseWriter, r *http.Request) {
	who, ok := h.privileged(w, r)
	if !ok {
		return
	}
	id, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, apperr.Validation("invalid poll id"))
		return
	}

	var req PollStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.router.SetPollStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	counts, err := h.polls.VoteTallies(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.log.Info().Int64("poll_id", id).Str("status", p.Status).Int64("user_id", who.UserID).Msg("poll status set by moderator")
	writeJSON(w, http.StatusOK, PollResponse{Success: true, Poll: view(p, counts)})
}

// Vote handles POST /api/polls/{id}/votes.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	who, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	pollID, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, apperr.Validation("invalid poll id"))
		return
	}

	var req VoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.OptionIndex == nil {
		h.fail(w, apperr.Validation("option_index is required"))
		return
	}

	update, err := h.router.SubmitVote(r.Context(), req.RoomID, who, pollID, *req.OptionIndex)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		event.Outbound
	}{true, update})
}

// Question handles POST /api/questions.
func (h *Handler) Question(w http.ResponseWriter, r *http.Request) {
	who, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}

	var req QuestionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	q, err := h.router.SubmitQuestion(r.Context(), req.RoomID, who, req.SessionID, req.Question)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, QuestionResponse{Success: true, ID: q.ID, Status: q.Status})
}

// Questions handles GET /api/questions?session_id=&status=. Only
// privileged roles read the queue.
func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.privileged(w, r); !ok {
		return
	}
	sessionID, err := queryInt(r.URL.Query().Get("session_id"))
	if err != nil || sessionID <= 0 {
		h.fail(w, apperr.Validation("session_id is required"))
		return
	}

	qs, err := h.polls.QuestionsBySession(r.Context(), sessionID, r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if qs == nil {
		qs = []store.QAQuestion{}
	}
	writeJSON(w, http.StatusOK, QuestionsResponse{Success: true, Questions: qs})
}

// ClearSanctions handles DELETE /api/rooms/{room_id}/sanctions/{user_id}.
func (h *Handler) ClearSanctions(w http.ResponseWriter, r *http.Request) {
	who, ok := h.privileged(w, r)
	if !ok {
		return
	}
	roomID, err1 := pathInt(r, "room_id")
	userID, err2 := pathInt(r, "user_id")
	if err1 != nil || err2 != nil {
		h.fail(w, apperr.Validation("invalid room or user id"))
		return
	}

	if err := h.mod.Clear(r.Context(), roomID, userID); err != nil {
		h.fail(w, err)
		return
	}
	h.log.Info().Int64("room_id", roomID).Int64("user_id", userID).Int64("moderator_id", who.UserID).Msg("sanctions cleared")
	w.WriteHeader(http.StatusNoContent)
}

// privileged returns the caller when it may moderate, and writes the
// refusal otherwise.
func (h *Handler) privileged(w http.ResponseWriter, r *http.Request) (event.Identity, bool) {
	who, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return who, false
	}
	if !who.Role.Privileged() {
		h.fail(w, apperr.Permission("insufficient permissions"))
		return who, false
	}
	return who, true
}

func view(p *store.Poll, counts []int64) PollView {
	var total int64
	for _, c := range counts {
		total += c
	}
	return PollView{
		ID:             p.ID,
		RoomID:         p.RoomID,
		Title:          p.Title,
		Options:        p.Options,
		Status:         p.Status,
		MultipleChoice: p.MultipleChoice,
		VotePolicy:     p.VotePolicy,
		EndsAt:         p.EndsAt,
		Counts:         counts,
		TotalVotes:     total,
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("polling request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: apperr.Public(err)})
}

func statusFor(err error) int {
	switch {
	case apperr.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case apperr.Is(err, apperr.ErrPermission):
		return http.StatusForbidden
	case apperr.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case apperr.Is(err, apperr.ErrDuplicateVote):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func pathInt(r *http.Request, key string) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
