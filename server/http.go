package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chathub/chat"
	"chathub/metrics"
	"chathub/models"
	"chathub/protocol"
)

type identityKey struct{}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type userBody struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userBody `json:"user"`
}

// Handler returns the HTTP API, the websocket endpoint and, when a gatherer
// is configured, /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer, requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegisterHTTP)
		r.Post("/auth/login", s.handleLoginHTTP)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/auth/user", s.handleCurrentUser)
			r.Get("/messages", s.handleMessages)
			r.Post("/messages", s.handleSendMessage)
			r.Get("/users/search", s.handleSearchUsers)
			r.Get("/friends", s.handleFriends)
			r.Get("/friend-requests", s.handleFriendRequests)
			r.Post("/friend-request/send/{userId}", s.handleFriendRequestSend)
			r.Post("/friend-request/accept/{userId}", s.handleFriendRequestAccept)
			r.Post("/friend-request/reject/{userId}", s.handleFriendRequestReject)
		})
	})

	return r
}

// POST /api/auth/register
func (s *Server) handleRegisterHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Invalid("invalid JSON body"))
		return
	}

	user, token, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Token: token,
		User:  userBody{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}

// POST /api/auth/login. login may be a username or an email; email is
// accepted as an alias.
func (s *Server) handleLoginHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Invalid("invalid JSON body"))
		return
	}
	if req.Login == "" {
		req.Login = req.Email
	}

	user, token, err := s.auth.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User:  userBody{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}

// GET /api/auth/user
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]userBody{
		"user": {ID: id.UserID, Username: id.Username},
	})
}

// GET /api/messages[?limit=n]
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, models.Invalid("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	msgs, err := s.router.History(r.Context(), identityFrom(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// POST /api/messages. An empty recipient sends to the global channel. Online
// sessions get the message live; the requester gets it as the response.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text      string `json:"text"`
		Recipient string `json:"recipient"`
		TempID    string `json:"tempId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Invalid("invalid JSON body"))
		return
	}

	ctx, o := s.requestOrigin(r)
	var (
		msg *models.Message
		err error
	)
	if req.Recipient == "" {
		msg, err = s.router.SendGlobal(ctx, o, req.Text, req.TempID)
	} else {
		msg, err = s.router.SendPrivate(ctx, o, req.Recipient, req.Text, req.TempID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, protocol.ChatMessage{
		ID:        msg.ID,
		Username:  o.Username,
		Recipient: msg.RecipientName,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		IsPrivate: msg.IsPrivate,
		IsOwn:     true,
		TempID:    req.TempID,
	})
}

// POST /api/friend-request/send/{userId}
func (s *Server) handleFriendRequestSend(w http.ResponseWriter, r *http.Request) {
	s.friendAction(w, r, s.router.SendFriendRequest, models.ErrUserNotFound)
}

// POST /api/friend-request/accept/{userId}. userId is the requester.
func (s *Server) handleFriendRequestAccept(w http.ResponseWriter, r *http.Request) {
	s.friendAction(w, r, s.router.AcceptFriendRequest, models.ErrRequestNotFound)
}

// POST /api/friend-request/reject/{userId}. userId is the requester.
func (s *Server) handleFriendRequestReject(w http.ResponseWriter, r *http.Request) {
	s.friendAction(w, r, s.router.RejectFriendRequest, models.ErrRequestNotFound)
}

// friendAction resolves the {userId} path parameter and runs act against that
// user. missing is reported when no such user exists.
func (s *Server) friendAction(w http.ResponseWriter, r *http.Request, act func(context.Context, chat.Origin, string) error, missing error) {
	ctx, o := s.requestOrigin(r)

	user, err := s.store.FindByID(ctx, chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, missing)
		return
	}

	if err := act(ctx, o, user.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user": user.Username})
}

// requestOrigin builds the router origin of an authenticated request. The
// requester is answered over HTTP, so events addressed to its handle are
// dropped.
func (s *Server) requestOrigin(r *http.Request) (context.Context, chat.Origin) {
	id := identityFrom(r.Context())
	logger := log.With().Str("user", id.Username).Str("transport", "http").Logger()
	return logger.WithContext(r.Context()), chat.Origin{
		Identity: id,
		Handle:   requestHandle{id: "http-" + uuid.NewString()},
	}
}

// requestHandle is the origin handle of an HTTP request. It is never
// registered, so only replies to the requester reach it.
type requestHandle struct {
	id string
}

func (h requestHandle) ID() string               { return h.id }
func (h requestHandle) Send(protocol.Event) bool { return true }
func (h requestHandle) Close(string)             {}

// GET /api/users/search?username=
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("username"))
	if query == "" {
		writeError(w, models.Invalid("Username query parameter is required"))
		return
	}

	users, err := s.store.SearchUsers(r.Context(), query, identityFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]userBody, 0, len(users))
	for _, u := range users {
		out = append(out, userBody{ID: u.ID, Username: u.Username})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/friends
func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	names, err := s.router.Friends(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"friends": names})
}

// GET /api/friend-requests
func (s *Server) handleFriendRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.router.PendingRequests(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": s.registry.Count()})
}

// requireAuth accepts "Authorization: Bearer <token>".
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, models.ErrUnauthenticated)
			return
		}

		id, err := s.auth.CurrentUser(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func identityFrom(ctx context.Context) models.Identity {
	id, _ := ctx.Value(identityKey{}).(models.Identity)
	return id
}

func statusOf(code string) int {
	switch code {
	case models.CodeInvalidRequest, models.CodeSelfRequest, models.CodeRecipientNotFound:
		return http.StatusBadRequest
	case models.CodeUnauthenticated, models.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case models.CodeNotFriends:
		return http.StatusForbidden
	case models.CodeUserNotFound, models.CodeSenderNotFound, models.CodeRequestNotFound:
		return http.StatusNotFound
	case models.CodeUserExists, models.CodeAlreadyPending, models.CodeAlreadyFriends, models.CodeAlreadyOnline:
		return http.StatusConflict
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)
	if code == models.CodeInternal {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, statusOf(code), errorBody{Code: code, Message: models.MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				writeError(w, models.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// the upgrader needs the raw http.Hijacker
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
