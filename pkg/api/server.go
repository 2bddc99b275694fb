package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/methods"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/api/models/requests"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/database"
	"github.com/wizzomafizzo/taprelay/pkg/metrics"
	"github.com/wizzomafizzo/taprelay/pkg/platforms"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
)

const (
	RequestTimeout  = 30 * time.Second
	ShutdownTimeout = 5 * time.Second
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrMissingId     = errors.New("missing request id")
)

var methodMap = map[string]func(requests.RequestEnv) (any, error){
	// session
	models.MethodSessionStart: methods.HandleSessionStart,
	models.MethodSessionStop:  methods.HandleSessionStop,
	// readers
	models.MethodReadersWrite: methods.HandleReaderWrite,
	// history
	models.MethodHistory:       methods.HandleHistory,
	models.MethodHistoryRelays: methods.HandleRelayHistory,
	// settings
	models.MethodSettings:       methods.HandleSettings,
	models.MethodSettingsUpdate: methods.HandleSettingsUpdate,
	// utils
	models.MethodStatus:  methods.HandleStatus,
	models.MethodVersion: methods.HandleVersion,
}

type Options struct {
	Platform platforms.Platform
	Config   *config.UserConfig
	State    *state.State
	Database *database.Database
	Scanner  requests.Scanner
	// Metrics is optional, /metrics is not served without it.
	Metrics *metrics.Manager
}

type Server struct {
	opts   Options
	melody *melody.Melody
	router chi.Router
}

func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		melody: melody.New(),
	}

	s.melody.Upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	s.melody.HandleMessage(s.handleMessage)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*", "capacitor://*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		ExposedHeaders: []string{},
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		err := s.melody.HandleRequest(w, r)
		if err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
	})
	r.Get("/api/v1/history.csv", s.handleHistoryCsv)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Broadcast sends state notifications to every connected client until ctx
// is done.
func (s *Server) Broadcast(ctx context.Context) {
	ns := s.opts.State.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ns:
			ro := models.RequestObject{
				JsonRpc: "2.0",
				Method:  n.Method,
				Params:  n.Params,
			}

			data, err := json.Marshal(ro)
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification request")
				continue
			}

			err = s.melody.Broadcast(data)
			if err != nil {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

func (s *Server) env(ctx context.Context) requests.RequestEnv {
	return requests.RequestEnv{
		Context:  ctx,
		Platform: s.opts.Platform,
		Config:   s.opts.Config,
		State:    s.opts.State,
		Database: s.opts.Database,
		Scanner:  s.opts.Scanner,
	}
}

func handleRequest(env requests.RequestEnv, req models.RequestObject) (any, error) {
	log.Debug().Interface("request", req).Msg("received request")

	fn, ok := methodMap[req.Method]
	if !ok {
		return nil, ErrUnknownMethod
	}

	if req.Id == nil {
		return nil, ErrMissingId
	}

	var params []byte
	if req.Params != nil {
		var err error
		// double unmarshal to use json decode on params later
		params, err = json.Marshal(req.Params)
		if err != nil {
			return nil, err
		}
	}

	env.Id = *req.Id
	env.Params = params

	return fn(env)
}

func sendResponse(s *melody.Session, id uuid.UUID, result any) error {
	log.Debug().Interface("result", result).Msg("sending response")

	resp := models.ResponseObject{
		JsonRpc: "2.0",
		Id:      id,
		Result:  result,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return s.Write(data)
}

func sendError(s *melody.Session, id uuid.UUID, code int, message string) error {
	log.Debug().Int("code", code).Str("message", message).Msg("sending error")

	resp := models.ResponseObject{
		JsonRpc: "2.0",
		Id:      id,
		Error: &models.ErrorObject{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return s.Write(data)
}

func (s *Server) handleMessage(session *melody.Session, msg []byte) {
	// ping command for heartbeat operation
	if string(msg) == "ping" {
		err := session.Write([]byte("pong"))
		if err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}

	if !json.Valid(msg) {
		log.Error().Msg("data not valid json")
		return
	}

	var req models.RequestObject
	err := json.Unmarshal(msg, &req)
	if err != nil {
		log.Error().Err(err).Msg("message does not match known types")
		return
	}

	if req.JsonRpc != "2.0" {
		log.Error().Str("jsonrpc", req.JsonRpc).Msg("unsupported payload version")
		return
	}

	if req.Method == "" {
		log.Debug().Msg("ignoring message with no method")
		return
	}

	if req.Id == nil {
		log.Info().Interface("req", req).Msg("received notification, ignoring")
		return
	}

	// the upgrade request context lives as long as the connection
	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	resp, err := handleRequest(s.env(ctx), req)
	if err != nil {
		err := sendError(session, *req.Id, 1, err.Error())
		if err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	err = sendResponse(session, *req.Id, resp)
	if err != nil {
		log.Error().Err(err).Msg("error sending response")
	}
}

func renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, models.ErrorObject{
		Code:    status,
		Message: err.Error(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, methods.NewStatus(s.opts.State))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	max := database.DefaultMaxResults
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			renderError(w, r, http.StatusBadRequest, methods.ErrInvalidParams)
			return
		}
		max = n
	}

	resp, err := methods.NewHistory(s.opts.Database, max)
	if err != nil {
		log.Error().Err(err).Msg("error getting history")
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}

	render.JSON(w, r, resp)
}

func (s *Server) handleHistoryCsv(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\"history.csv\"")

	err := s.opts.Database.ExportHistory(w)
	if err != nil {
		log.Error().Err(err).Msg("error exporting history")
	}
}

// Start serves the API on the configured port until ctx is done.
func Start(ctx context.Context, opts Options) error {
	s := NewServer(opts)
	go s.Broadcast(ctx)

	srv := &http.Server{
		Addr:    ":" + opts.Config.GetApiPort(),
		Handler: s.Handler(),
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting api server")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Debug().Msg("stopping api server")

	err := s.melody.Close()
	if err != nil {
		log.Warn().Err(err).Msg("error closing websocket sessions")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
