package smtp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

type Server struct {
	srv    *smtp.Server
	logger *zap.Logger
}

func NewServer(addr, domain string, backend *Backend, logger *zap.Logger) *Server {
	srv := smtp.NewServer(backend)
	srv.Addr = addr
	srv.Domain = domain
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.MaxMessageBytes = 25 << 20
	srv.MaxRecipients = 10
	return &Server{srv: srv, logger: logger}
}

// Start listens in the background; a listen failure other than a clean close is fatal.
func (s *Server) Start() {
	go func() {
		s.logger.Info("SMTP server starting", zap.String("addr", s.srv.Addr), zap.String("domain", s.srv.Domain))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.logger.Fatal("SMTP server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error("SMTP server shutdown error", zap.Error(err))
		return
	}
	s.logger.Info("SMTP server stopped")
}
