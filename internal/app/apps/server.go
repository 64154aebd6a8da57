package apps

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"genomic/internal/pkg/catalog"
	"genomic/internal/pkg/detector"
	"genomic/internal/pkg/metrics"
	"genomic/internal/pkg/patient"
	"genomic/internal/pkg/report"
	"genomic/internal/pkg/server"
	"genomic/internal/pkg/storage"
	"genomic/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ServerApp is the genomic protocol server application.
type ServerApp struct {
	Addr             string `validate:"required"`
	HealthAddr       string `validate:"required"`
	DataDir          string `validate:"required"`
	CatalogDir       string `validate:"required"`
	TLSCert          string
	TLSKey           string
	MaxConns         int `validate:"min=1"`
	AnalysisDoneLine bool
}

// ServerAppCfg configures a ServerApp.
type ServerAppCfg interface {
	ApplyServerApp(*ServerApp) error
}

// NewServerApp creates a new ServerApp.
func NewServerApp(cfgs ...ServerAppCfg) (*ServerApp, error) {
	app := &ServerApp{MaxConns: server.DefaultMaxConns}
	for _, cfg := range cfgs {
		if err := cfg.ApplyServerApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ServerApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ServerApp failed")
	}
	return app, nil
}

// Run loads the catalog and the patient snapshot, then serves connections
// until ctx is cancelled.
func (app *ServerApp) Run(ctx context.Context, _ []string) error {
	registry, err := patient.NewRegistry(filepath.Join(app.DataDir, "patients.csv"))
	if err != nil {
		return errors.Wrap(err, "create patient registry failed")
	}
	reports := report.NewLog(filepath.Join(app.DataDir, "disease_reports.csv"))
	sequences := storage.NewFileStore(filepath.Join(app.DataDir, "fasta_files"))

	cat := catalog.NewStore(app.CatalogDir)
	if err := cat.Load(); err != nil {
		return errors.Wrap(err, "load disease catalog failed")
	}
	det, err := detector.New(
		detector.WithCatalog(cat),
		detector.WithReporter(reports),
	)
	if err != nil {
		return errors.Wrap(err, "create detector failed")
	}

	m := metrics.New()
	health := metrics.NewHealthServer(app.HealthAddr)
	go func() {
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("health server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := health.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown failed")
		}
	}()

	lis, err := app.listen()
	if err != nil {
		return errors.Wrap(err, "listen failed")
	}

	srv, err := server.NewServer(
		server.WithRegistry(registry),
		server.WithAnalyzer(det),
		server.WithSequenceStore(sequences),
		server.WithSummarizer(reports),
		server.WithMetrics(m),
		server.WithMaxConns(app.MaxConns),
		server.WithAnalysisDoneLine(app.AnalysisDoneLine),
	)
	if err != nil {
		return errors.Wrap(err, "create server failed")
	}
	return errors.Wrap(srv.Serve(ctx, lis), "serve failed")
}

func (app *ServerApp) listen() (net.Listener, error) {
	if app.TLSCert == "" {
		logger.Warn("no TLS credentials configured, serving plaintext")
		return net.Listen("tcp", app.Addr)
	}
	return server.NewTLSListener(app.Addr, app.TLSCert, app.TLSKey)
}
