// Package httpapi exposes the mesh core over HTTP and WebSocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/events"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/peers"
	"github.com/openfesta/festmesh/internal/service"
)

// Server wires the mesh service into HTTP handlers.
type Server struct {
	*mux.Router
	log *zap.Logger
	svc service.MeshService
	bus *events.Bus
	hub *wsHub
}

// New constructs the router with all routes and middleware.
func New(log *zap.Logger, svc service.MeshService, bus *events.Bus, signKey []byte) *Server {
	s := &Server{
		Router: mux.NewRouter(),
		log:    log,
		svc:    svc,
		bus:    bus,
		hub:    newWSHub(log, bus),
	}

	s.Use(Recover(log), Logging(log))
	s.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.HandleFunc("/ws/events", s.hub.serve).Methods(http.MethodGet)

	api := s.PathPrefix("/api").Subrouter()
	api.Use(Auth(signKey))
	api.HandleFunc("/identities", s.registerIdentity).Methods(http.MethodPost)
	api.HandleFunc("/peers", s.registerPeer).Methods(http.MethodPost)
	api.HandleFunc("/peers", s.listPeers).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.submitMessage).Methods(http.MethodPost)
	api.HandleFunc("/sync/online", s.setOnline).Methods(http.MethodPost)
	api.HandleFunc("/sync/retry", s.retryFailed).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", s.syncStatus).Methods(http.MethodGet)

	return s
}

// Run starts the websocket hub's broadcast loop; call before serving.
func (s *Server) Run(stop <-chan struct{}) { go s.hub.run(stop) }

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": s.svc.Online()})
}

type registerIdentityRequest struct {
	FestivalID    uuid.UUID `json:"festival_id"`
	StaticPublic  []byte    `json:"static_public"`
	SigningPublic []byte    `json:"signing_public"`
	Nickname      string    `json:"nickname"`
}

func (s *Server) registerIdentity(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	var req registerIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	ident, err := s.svc.RegisterIdentity(r.Context(), userID, req.FestivalID, peers.IdentityDescriptor{
		StaticPublic:  req.StaticPublic,
		SigningPublic: req.SigningPublic,
		Nickname:      req.Nickname,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, identityResponse(ident))
}

type registerPeerRequest struct {
	ID            string            `json:"id"`
	StaticPublic  []byte            `json:"static_public"`
	SigningPublic []byte            `json:"signing_public"`
	Nickname      string            `json:"nickname"`
	Connected     bool              `json:"connected"`
	Reachable     bool              `json:"reachable"`
	Favorite      bool              `json:"favorite"`
	Blocked       bool              `json:"blocked"`
	Verified      bool              `json:"verified"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (s *Server) registerPeer(w http.ResponseWriter, r *http.Request) {
	var req registerPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	peer, err := s.svc.RegisterPeer(r.Context(), peers.PeerDescriptor{
		ID:            req.ID,
		StaticPublic:  req.StaticPublic,
		SigningPublic: req.SigningPublic,
		Nickname:      req.Nickname,
		Connected:     req.Connected,
		Reachable:     req.Reachable,
		Favorite:      req.Favorite,
		Blocked:       req.Blocked,
		Verified:      req.Verified,
		Metadata:      req.Metadata,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, peerResponse(peer))
}

func (s *Server) listPeers(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListPeers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for i := range list {
		out = append(out, peerResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": out})
}

type submitMessageRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Room      string `json:"room,omitempty"`
	Type      string `json:"type"`
	Content   []byte `json:"content"`
	Private   bool   `json:"private"`
	TTL       int    `json:"ttl"`
}

func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	id, err := s.svc.SubmitMessage(r.Context(), service.MessageDescriptor{
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Room:      req.Room,
		Type:      model.MessageType(req.Type),
		Content:   req.Content,
		Private:   req.Private,
		TTL:       req.TTL,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message_id": id.String()})
}

func (s *Server) setOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	s.svc.SetOnline(r.Context(), req.Online)
	writeJSON(w, http.StatusOK, map[string]any{"online": req.Online})
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.RetryFailed(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readmitted": n})
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	pending, processed, failed, err := s.svc.SyncStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":   pending,
		"processed": processed,
		"failed":    failed,
		"online":    s.svc.Online(),
	})
}

// writeError maps sentinel errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrAuthenticationFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrUnknownSender), errors.Is(err, errs.ErrUnknownRecipient):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrBusinessRule):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("internal error", zap.Error(err))
		http.Error(w, "internal", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func identityResponse(ident *model.Identity) map[string]any {
	return map[string]any{
		"id":          ident.ID.String(),
		"fingerprint": ident.Fingerprint,
		"nickname":    ident.Nickname,
		"active":      ident.Active,
	}
}

func peerResponse(p *model.Peer) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"nickname":  p.Nickname,
		"connected": p.Connected,
		"reachable": p.Reachable,
		"favorite":  p.Favorite,
		"blocked":   p.Blocked,
		"verified":  p.Verified,
		"last_seen": p.LastSeen,
	}
}
