package httpbinding

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/remoteserver"
	"github.com/wostzone/wost-session/pkg/rpc"
)

// Paths below the binding
const (
	RPCPath      = "/rpc"
	CodebasePath = "/codebase"
)

// maxRPCBodyBytes limits the size of a request
const maxRPCBodyBytes int64 = 1 << 20

// Server exposes a remoteserver backend over HTTP(S).
//
//  POST /{binding}/rpc            JSON-RPC 2.0 requests
//  GET  /{binding}/codebase/{type} type descriptors
type Server struct {
	backend    *remoteserver.Server
	binding    string
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	baseURL    string
}

// Handler returns the http handler with CORS applied
func (srv *Server) Handler() http.Handler { return srv.handler }

// Binding name of the server
func (srv *Server) Binding() string { return srv.binding }

// BaseURL of the binding once started, eg https://127.0.0.1:9443/session
func (srv *Server) BaseURL() string { return srv.baseURL }

func (srv *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpc.Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPC(w, rpc.NewResponse(nil, nil,
			communication.NewRemoteError(communication.CodeParseError, "parse error")))
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeRPC(w, rpc.NewResponse(req.ID, nil,
			communication.NewRemoteError(communication.CodeInvalidRequest, "invalid request")))
		return
	}
	started := time.Now()
	remoteAddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteAddr = r.RemoteAddr
	}
	resp := srv.backend.HandleRequest(r.Context(), &req, remoteAddr)
	if resp.Error != nil {
		logrus.WithFields(logrus.Fields{
			"method":  req.Method,
			"code":    resp.Error.Code,
			"latency": time.Since(started),
		}).Infof("handleRPC: %s", resp.Error.Message)
	} else {
		logrus.WithFields(logrus.Fields{
			"method":  req.Method,
			"latency": time.Since(started),
		}).Debugf("handleRPC: ok")
	}
	writeRPC(w, resp)
}

func (srv *Server) handleCodebase(w http.ResponseWriter, r *http.Request) {
	typeName := mux.Vars(r)["type"]
	t, found := srv.backend.LookupType(typeName)
	if !found {
		http.Error(w, fmt.Sprintf("type '%s' not found", typeName), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(t)
}

func writeRPC(w http.ResponseWriter, resp *rpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Start listening on the address and serve in the background.
// The backend codebase is set to this server when it has none.
//  address to listen on, eg ":9443" or "127.0.0.1:0" for a free port
//  tlsConfig with the server certificate. nil to serve plain http.
func (srv *Server) Start(address string, tlsConfig *tls.Config) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		logrus.Errorf("Start: unable to listen on '%s': %s", address, err)
		return err
	}
	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
		listener = tls.NewListener(listener, tlsConfig)
	}
	srv.baseURL = fmt.Sprintf("%s://%s/%s", scheme, listener.Addr().String(), srv.binding)
	if srv.backend.Codebase() == "" {
		srv.backend.SetCodebase(srv.baseURL + CodebasePath)
	}
	srv.httpServer = &http.Server{
		Handler:           srv.handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logrus.Infof("Start: serving %s", srv.baseURL)
	go func() {
		err := srv.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("Start: server stopped: %s", err)
		}
	}()
	return nil
}

// Stop the server
func (srv *Server) Stop() {
	if srv.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.httpServer.Shutdown(ctx); err != nil {
		logrus.Warningf("Stop: %s", err)
	}
	srv.httpServer = nil
}

// NewServer creates the http server for the backend
//  binding is the first path segment. "" for DefaultBinding
//  allowedOrigins for browser based clients. nil allows all origins
func NewServer(backend *remoteserver.Server, binding string, allowedOrigins []string) *Server {
	if binding == "" {
		binding = DefaultBinding
	}
	srv := &Server{
		backend: backend,
		binding: binding,
		router:  mux.NewRouter(),
	}
	prefix := "/" + binding
	srv.router.HandleFunc(prefix+RPCPath, srv.handleRPC).Methods(http.MethodPost)
	srv.router.HandleFunc(prefix+CodebasePath+"/{type}", srv.handleCodebase).Methods(http.MethodGet)
	srv.handler = cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(srv.router)
	return srv
}
