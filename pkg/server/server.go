// Package server exposes the admission handler over HTTP(S).
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/certwatcher"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/kapicorp/tesoro/pkg/config"
	"github.com/kapicorp/tesoro/pkg/metrics"
)

const (
	MutatePath  = "/mutate"
	HealthzPath = "/healthz"
)

// Options configures a Server.
type Options struct {
	Config    config.ServerConfig
	AccessLog bool
	Handler   admission.Handler
	// Recorder counts requests whose body never reaches Handler.
	Recorder *metrics.Recorder
	Log      logr.Logger
}

// Server serves POST /mutate and GET /healthz.
type Server struct {
	cfg       config.ServerConfig
	accessLog bool
	handler   admission.Handler
	recorder  *metrics.Recorder
	log       logr.Logger
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		accessLog: opts.AccessLog,
		handler:   opts.Handler,
		recorder:  opts.Recorder,
		log:       opts.Log.WithName("server"),
	}
	if s.recorder == nil {
		s.recorder = metrics.NewRecorder(nil)
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = config.Default().Server.MaxBodyBytes
	}
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+MutatePath, s.handleMutate)
	mux.HandleFunc("GET "+HealthzPath, s.handleHealth)

	if s.accessLog {
		return withAccessLog(s.log.WithName("access"), mux)
	}
	return mux
}

// handleMutate decodes an AdmissionReview, runs the handler and writes the
// review back with the request's apiVersion and kind.
func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.reject(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		s.reject(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(body, &review); err != nil {
		s.reject(w, http.StatusBadRequest, "request is not a JSON AdmissionReview")
		return
	}

	req := admission.Request{}
	if review.Request != nil {
		req.AdmissionRequest = *review.Request
	}
	resp := s.handler.Handle(r.Context(), req)

	s.write(w, http.StatusOK, typeMeta(review.TypeMeta), &resp.AdmissionResponse)
}

// reject answers a body that could not be decoded into a review.
func (s *Server) reject(w http.ResponseWriter, code int, message string) {
	s.recorder.Requests.Inc()
	s.recorder.RequestsFailed.Inc()
	s.log.Info("rejecting undecodable admission request", "code", code, "reason", message)

	s.write(w, code, typeMeta(metav1.TypeMeta{}), &admissionv1.AdmissionResponse{
		Allowed: false,
		Result: &metav1.Status{
			Code:    int32(code),
			Message: message,
			Reason:  metav1.StatusReasonBadRequest,
		},
	})
}

func (s *Server) write(w http.ResponseWriter, code int, meta metav1.TypeMeta, resp *admissionv1.AdmissionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(admissionv1.AdmissionReview{TypeMeta: meta, Response: resp}); err != nil {
		s.log.Error(err, "failed to write admission response")
	}
}

func typeMeta(in metav1.TypeMeta) metav1.TypeMeta {
	if in.APIVersion == "" {
		in.APIVersion = admissionv1.SchemeGroupVersion.String()
	}
	if in.Kind == "" {
		in.Kind = "AdmissionReview"
	}
	return in
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// Start serves until ctx is done, over TLS when a certificate is configured.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	if s.cfg.TLSEnabled() {
		tlsConfig, err := s.TLSConfig(ctx)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	}

	s.log.Info("starting admission server", "address", srv.Addr, "tls", s.cfg.TLSEnabled(), "clientCA", s.cfg.ClientCAEnabled(), "requireClientCert", s.cfg.RequireClientCert)
	return serve(ctx, srv, s.cfg.TLSEnabled(), s.cfg.ShutdownTimeout, s.log)
}

// TLSConfig loads the serving certificate and keeps reloading it from disk
// until ctx is done. With a client CA configured, presented client
// certificates must verify against it; RequireClientCert also rejects clients
// that present none.
func (s *Server) TLSConfig(ctx context.Context) (*tls.Config, error) {
	watcher, err := certwatcher.New(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading serving certificate: %w", err)
	}
	go func() {
		if err := watcher.Start(ctx); err != nil {
			s.log.Error(err, "certificate watcher stopped")
		}
	}()

	tlsConfig := &tls.Config{
		GetCertificate: watcher.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}

	if s.cfg.ClientCAEnabled() {
		caPool, err := clientCAPool(s.cfg.CAFile, s.cfg.CAPath)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = caPool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		if s.cfg.RequireClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return tlsConfig, nil
}

// clientCAPool collects the certificates of caFile and of every regular file
// in caPath. Files in caPath without certificates are skipped.
func clientCAPool(caFile, caPath string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if caFile != "" {
		data, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading client CA file %s: %w", caFile, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("client CA file %s contains no valid certificates", caFile)
		}
	}
	if caPath == "" {
		return pool, nil
	}

	entries, err := os.ReadDir(caPath)
	if err != nil {
		return nil, fmt.Errorf("reading client CA path %s: %w", caPath, err)
	}
	found := false
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(caPath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading client CA %s: %w", entry.Name(), err)
		}
		if pool.AppendCertsFromPEM(data) {
			found = true
		}
	}
	if !found && caFile == "" {
		return nil, fmt.Errorf("client CA path %s contains no valid certificates", caPath)
	}
	return pool, nil
}

// serve runs srv until ctx is done or the listener fails, then shuts it down.
func serve(ctx context.Context, srv *http.Server, useTLS bool, shutdownTimeout time.Duration, log logr.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serving %s: %w", srv.Addr, err)
		}
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s: %w", srv.Addr, err)
	}
	log.Info("server stopped", "address", srv.Addr)
	return nil
}
