package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Server struct {
	HTTP *http.Server
	name string
}

type Options struct {
	Addr        string
	ServiceName string
	Logger      *zap.Logger
	Router      chi.Router
}

// New builds the server. There is no write timeout because the router
// serves long-lived event streams; request contexts are cancelled when
// Shutdown starts so those streams end instead of holding it up.
func New(opts Options) *Server {
	if opts.Router == nil {
		r := chi.NewRouter()
		opts.Router = r
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           opts.Router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	base, cancel := context.WithCancel(context.Background())
	srv.BaseContext = func(net.Listener) context.Context { return base }
	srv.RegisterOnShutdown(cancel)
	if opts.Logger != nil {
		srv.ErrorLog = zap.NewStdLog(opts.Logger.Named("http"))
	}
	return &Server{HTTP: srv, name: opts.ServiceName}
}

func (s *Server) Start(log *zap.Logger) error {
	log.Info("http server starting", zap.String("service", s.name), zap.String("addr", s.HTTP.Addr))
	return s.HTTP.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.HTTP.Shutdown(ctx)
}
