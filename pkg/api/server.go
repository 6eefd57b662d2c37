package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/dex"
	"github.com/uhyunpark/custodex/pkg/metrics"
)

const (
	maxBodyBytes      = 64 << 10
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

type Config struct {
	// Reader serves queries. Defaults to App's exchange.
	Reader exchange.Reader
	// App accepts signed requests and owns the token ledger. Nil on a
	// follower, which then serves exchange reads only.
	App            *dex.App
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Server provides REST API and WebSocket endpoints for wallets and UIs
type Server struct {
	reader  exchange.Reader
	app     *dex.App
	router  *mux.Router
	hub     *Hub
	metrics *metrics.Metrics
	origins []string
	log     *zap.SugaredLogger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Reader == nil && cfg.App != nil {
		cfg.Reader = cfg.App.Exchange()
	}
	if cfg.Metrics == nil {
		if cfg.App != nil {
			cfg.Metrics = cfg.App.Metrics()
		} else {
			cfg.Metrics = metrics.New()
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	log := cfg.Logger.Sugar()

	s := &Server{
		reader:  cfg.Reader,
		app:     cfg.App,
		router:  mux.NewRouter(),
		hub:     NewHub(cfg.Metrics, log),
		metrics: cfg.Metrics,
		origins: cfg.AllowedOrigins,
		log:     log,
	}
	s.setupRoutes()
	return s
}

// Hub is the websocket fan-out; register it as an event sink
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Exchange
	api.HandleFunc("/exchange", s.handleExchangeInfo).Methods("GET")
	api.HandleFunc("/balances/{address}", s.handleBalances).Methods("GET")
	api.HandleFunc("/balances/{address}/{token}", s.handleBalance).Methods("GET")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("GET")

	// Token ledger
	api.HandleFunc("/tokens", s.handleTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{owner}", s.handleTokenBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/allowances/{owner}/{spender}", s.handleAllowance).Methods("GET")

	// Signed requests
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the full HTTP stack: CORS around the router
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves HTTP and the websocket hub until ctx ends
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_server_starting", "addr", addr, "role", s.role())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return nil
}

func (s *Server) role() string {
	if s.app == nil {
		return "follower"
	}
	return "primary"
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":  "ok",
		"role":    s.role(),
		"lastSeq": s.reader.LastSeq(),
	})
}

func (s *Server) handleExchangeInfo(w http.ResponseWriter, r *http.Request) {
	cfg := s.reader.Config()
	info := ExchangeInfo{
		Address:    cfg.Address.Hex(),
		FeeAccount: cfg.FeeAccount.Hex(),
		FeePercent: cfg.FeePercent,
		OrderCount: s.reader.OrderCount(),
		LastSeq:    s.reader.LastSeq(),
		Digest:     s.reader.Digest().Hex(),
		Role:       s.role(),
	}
	if s.app != nil {
		info.Domain = domainInfo(s.app.Domain())
	}
	respondJSON(w, info)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	bals := s.reader.Balances(user)
	out := make([]BalanceInfo, 0, len(bals))
	for _, b := range bals {
		out = append(out, s.balanceInfo(b.Token, user, b.Amount.Dec()))
	}
	respondJSON(w, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	respondJSON(w, s.balanceInfo(tok, user, s.reader.BalanceOf(tok, user).Dec()))
}

func (s *Server) balanceInfo(tok, user common.Address, amount string) BalanceInfo {
	b := BalanceInfo{Token: tok.Hex(), User: user.Hex(), Amount: amount}
	if s.app != nil {
		if info, ok := s.app.Tokens().Info(tok); ok {
			b.Symbol = info.Symbol
		}
	}
	return b
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f exchange.OrderFilter

	if v := q.Get("status"); v != "" {
		st, ok := exchange.ParseOrderStatus(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid status", "expected open, cancelled or filled")
			return
		}
		f.Status = &st
	}
	for _, p := range []struct {
		name string
		dst  **common.Address
	}{{"creator", &f.Creator}, {"token", &f.Token}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			respondError(w, http.StatusBadRequest, "invalid "+p.name, v)
			return
		}
		addr := common.HexToAddress(v)
		*p.dst = &addr
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		f.Limit = n
	}

	orders := s.reader.Orders(f)
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderInfo(o, s.reader.Status(o.ID)))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, status, err := s.reader.Order(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, orderInfo(o, status))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := uint64(1)
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			respondError(w, http.StatusBadRequest, "invalid from", "sequence numbers start at 1")
			return
		}
		from = n
	}
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxEventLimit)
	}

	evs := s.reader.Events(from, limit)
	if evs == nil {
		evs = []exchange.Event{}
	}
	respondJSON(w, EventsResponse{Events: evs, LastSeq: s.reader.LastSeq()})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if !s.requireApp(w) {
		return
	}
	infos := s.app.Tokens().List()
	out := make([]TokenInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, tokenInfo(i))
	}
	respondJSON(w, out)
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	if !s.requireApp(w) {
		return
	}
	tok, ok := s.pathToken(w, r)
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	respondJSON(w, TokenAmount{
		Token:  tok.Hex(),
		Owner:  owner.Hex(),
		Amount: s.app.Tokens().BalanceOf(tok, owner).Dec(),
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	if !s.requireApp(w) {
		return
	}
	tok, ok := s.pathToken(w, r)
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	spender, ok := pathAddress(w, r, "spender")
	if !ok {
		return
	}
	respondJSON(w, TokenAmount{
		Token:   tok.Hex(),
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  s.app.Tokens().Allowance(tok, owner, spender).Dec(),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	if !s.requireApp(w) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "body too large", "")
		return
	}

	tx, err := transactionFromBody(body)
	if err != nil {
		respondErr(w, err)
		return
	}
	rcpt, err := s.app.Submit(r.Context(), tx)
	if err != nil {
		s.log.Debugw("tx_failed", "request_id", requestID(r.Context()), "type", tx.Type, "err", err)
		respondErr(w, err)
		return
	}
	s.log.Infow("tx_applied",
		"request_id", requestID(r.Context()),
		"type", rcpt.Action,
		"signer", rcpt.Signer.Hex(),
		"hash", rcpt.Hash.Hex(),
		"events", len(rcpt.Events),
	)
	respondJSON(w, rcpt)
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) requireApp(w http.ResponseWriter) bool {
	if s.app == nil {
		respondError(w, http.StatusServiceUnavailable, "read-only follower", "submit requests to the primary")
		return false
	}
	return true
}

func (s *Server) pathToken(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return tok, false
	}
	if _, known := s.app.Tokens().Info(tok); !known {
		respondError(w, http.StatusNotFound, "unknown token", tok.Hex())
		return tok, false
	}
	return tok, true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid "+name, v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	writeError(w, status, ErrorResponse{Error: error, Message: message})
}

// respondErr maps a domain error to its HTTP status
func respondErr(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeError(w, status, ErrorResponse{Error: http.StatusText(status), Kind: kind, Message: err.Error()})
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
