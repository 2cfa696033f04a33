package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// GraphPinger reports whether the graph store connection is healthy, for
// the /health/graph endpoint.
type GraphPinger interface {
	Ping(ctx context.Context) error
}

// KeyStore resolves the shared secret Sign/VerifySignature use for a given
// agent. Spec §4.4(a): "X-Agent-Id maps to an active AgentKey" — there is
// no single gateway-wide secret, each agent signs and is verified against
// its own currently active, unexpired key.
type KeyStore interface {
	ActiveAgentKeyHash(ctx context.Context, agentID string) (string, error)
}

// Server is the heartbeat master's small inbound HTTP surface: liveness
// probes, an HMAC-signed agent message inbox, and an optional websocket
// event stream for an external dashboard. It does not attempt to be a
// general API gateway — the teacher's OpenAI-compatible chat gateway and
// ACP websocket RPC surface have no equivalent here.
type Server struct {
	mux         *http.ServeMux
	keys        KeyStore
	replay      *ReplayCache
	auth        *TokenAuth
	rateLimit   *RateLimitMiddleware
	graph       GraphPinger
	allowOrigin map[string]bool

	subMu sync.RWMutex
	subs  map[chan []byte]struct{}
}

// NewServer wires the inbound HTTP handlers. keys resolves each sender's
// active signing key (spec §4.4(a)/§3 I7); allowOrigins restricts which
// Origin header values may open the dashboard event stream, an empty list
// meaning no browser Origin is required (e.g. same-origin tooling).
func NewServer(graph GraphPinger, keys KeyStore, auth *TokenAuth, rateLimit *RateLimitMiddleware, allowOrigins []string) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		keys:      keys,
		replay:    NewReplayCache(),
		auth:      auth,
		rateLimit: rateLimit,
		graph:     graph,
		subs:      make(map[chan []byte]struct{}),
	}
	if len(allowOrigins) > 0 {
		s.allowOrigin = make(map[string]bool, len(allowOrigins))
		for _, o := range allowOrigins {
			s.allowOrigin[o] = true
		}
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/health/graph", s.handleHealthGraph)
	s.mux.HandleFunc("POST /agent/{agentID}/message", s.handleAgentMessage)
	s.mux.HandleFunc("/events", s.handleEvents)
	return s
}

// Handler returns the wrapped http.Handler: rate limiting, then auth, then
// the routed mux. Health endpoints are exempted inside each middleware.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.auth != nil {
		h = s.auth.Wrap(h)
	}
	if s.rateLimit != nil {
		h = s.rateLimit.Wrap(h)
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleHealthGraph(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if s.graph == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","graph":"unconfigured"}`))
		return
	}
	if err := s.graph.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","error":"graph store unreachable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","graph":"reachable"}`))
}

// handleAgentMessage accepts inbound HMAC-signed messages from agents.
// Any verification failure — bad signature, stale timestamp, missing
// headers, or a replayed nonce — returns the same 401 body (spec §4.4:
// no oracle for which check failed).
func (s *Server) handleAgentMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	timestamp := r.Header.Get("X-Timestamp")
	nonce := r.Header.Get("X-Nonce")
	signature := r.Header.Get("X-Signature")
	senderID := r.Header.Get("X-Agent-Id")

	now := time.Now()
	if senderID == "" || s.keys == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	keyHash, err := s.keys.ActiveAgentKeyHash(r.Context(), senderID)
	if err != nil {
		// No active, unexpired AgentKey for this sender — spec §3 I7.
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if err := VerifySignature(keyHash, http.MethodPost, r.URL.Path, timestamp, nonce, signature, body, now); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !s.replay.CheckAndRecord(senderID, nonce, now) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var msg DelegationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, `{"error":"invalid message body"}`, http.StatusBadRequest)
		return
	}

	s.broadcast(body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

// handleEvents upgrades to a websocket and streams inbound agent messages
// to the external dashboard. Grounded on the teacher's ACP websocket
// surface, stripped of its JSON-RPC framing.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if s.allowOrigin != nil {
		opts.OriginPatterns = originPatterns(s.allowOrigin)
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ch := make(chan []byte, 32)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcast(payload []byte) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- payload:
		default:
			slog.Warn("dashboard event stream subscriber is slow, dropping event")
		}
	}
}

func originPatterns(allow map[string]bool) []string {
	patterns := make([]string, 0, len(allow))
	for o := range allow {
		patterns = append(patterns, o)
	}
	return patterns
}
