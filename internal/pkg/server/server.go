// Package server accepts client connections and runs one protocol dispatcher
// per connection.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"genomic/internal/pkg/handler"
	"genomic/internal/pkg/log"
	"genomic/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultMaxConns bounds concurrently served connections when no limit is
// configured.
const DefaultMaxConns = 64

// Server accepts connections and spawns a dispatcher per connection. The
// number of concurrently served connections is bounded; connections beyond
// the ceiling queue in the listen backlog until a slot frees up.
type Server struct {
	registry         handler.Registry
	analyzer         handler.Analyzer
	sequences        handler.SequenceStore
	reports          handler.Summarizer
	metrics          *metrics.Metrics
	maxConns         int64
	analysisDoneLine bool
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithRegistry sets the patient registry shared by all connections.
func WithRegistry(r handler.Registry) Cfg {
	return func(s *Server) error {
		s.registry = r
		return nil
	}
}

// WithAnalyzer sets the matching engine shared by all connections.
func WithAnalyzer(a handler.Analyzer) Cfg {
	return func(s *Server) error {
		s.analyzer = a
		return nil
	}
}

// WithSequenceStore sets the per-patient payload store.
func WithSequenceStore(st handler.SequenceStore) Cfg {
	return func(s *Server) error {
		s.sequences = st
		return nil
	}
}

// WithSummarizer sets the detection report reader.
func WithSummarizer(r handler.Summarizer) Cfg {
	return func(s *Server) error {
		s.reports = r
		return nil
	}
}

// WithMetrics sets the metrics sink. Optional.
func WithMetrics(m *metrics.Metrics) Cfg {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithMaxConns sets the concurrency ceiling.
func WithMaxConns(n int) Cfg {
	return func(s *Server) error {
		if n < 1 {
			return errors.Errorf("max connections %d must be positive", n)
		}
		s.maxConns = int64(n)
		return nil
	}
}

// WithAnalysisDoneLine enables the ANALYSIS_COMPLETE trailer.
func WithAnalysisDoneLine(enabled bool) Cfg {
	return func(s *Server) error {
		s.analysisDoneLine = enabled
		return nil
	}
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfgs ...Cfg) (*Server, error) {
	s := &Server{maxConns: DefaultMaxConns}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply Server cfg failed")
		}
	}
	if s.registry == nil {
		return nil, errors.New("registry is required")
	}
	if s.analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if s.sequences == nil {
		return nil, errors.New("sequence store is required")
	}
	if s.reports == nil {
		return nil, errors.New("summarizer is required")
	}
	return s, nil
}

// NewTLSListener builds the encrypted listener the acceptor serves on.
// Credential or bind failures abort startup.
func NewTLSListener(addr, certFile, keyFile string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load TLS key pair failed")
	}
	lis, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return nil, errors.Wrap(err, "listen failed")
	}
	return lis, nil
}

// Serve accepts connections on lis until ctx is cancelled, then waits for
// in-flight connections to finish.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	sem := semaphore.NewWeighted(s.maxConns)

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	logger.WithField("addr", lis.Addr().String()).Info("genomic server started")

	var wg sync.WaitGroup
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		conn, err := lis.Accept()
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			logger.WithError(err).Error("accept connection failed")
			continue
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer sem.Release(1)
			s.serveConn(ctx, conn)
		}(conn)
	}

	wg.Wait()
	logger.Info("genomic server stopped")
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	connUUID := uuid.New()
	fields := log.ConnFields(connUUID, conn)
	logger.WithFields(fields).Info("client connected")
	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	h, err := handler.NewHandler(
		handler.WithConnUUID(connUUID),
		handler.WithRegistry(s.registry),
		handler.WithAnalyzer(s.analyzer),
		handler.WithSequenceStore(s.sequences),
		handler.WithSummarizer(s.reports),
		handler.WithMetrics(s.metrics),
		handler.WithAnalysisDoneLine(s.analysisDoneLine),
	)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("create handler failed")
		conn.Close()
		return
	}
	if err := h.Run(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithFields(fields).WithError(err).Warn("connection closed with error")
		return
	}
	logger.WithFields(fields).Info("connection closed")
}
