package smtpd

import (
	"fmt"
	"log"

	"github.com/jawr/mtad/internal/config"
	"github.com/jawr/mtad/internal/eventloop"
	"github.com/jawr/mtad/internal/logger"
)

// Server is the inbound SMTP listener: accept a connection, hand it a
// fresh Session, run the session to completion on its own goroutine.
type Server struct {
	cfg        *config.Config
	log        logger.Logger
	serverName string

	listener eventloop.Listener
}

// NewServer builds an inbound server bound to cfg.Port.
func NewServer(cfg *config.Config, log logger.Logger, hostname string) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		serverName: hostname,
	}

	s.listener = eventloop.Listener{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.handleConnection,
	}

	return s
}

// Run blocks serving inbound connections until the listener fails.
func (s *Server) Run() error {
	return s.listener.ListenAndServe()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConnection(conn eventloop.Connection) {
	defer conn.Close()

	session := NewSession(conn, s.cfg, s.log, s.serverName)
	if err := session.Serve(); err != nil {
		log.Printf("%s - closed: %s", session, err)
	}
}
