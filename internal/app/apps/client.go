package apps

import (
	"context"
	"crypto/tls"
	"strings"

	"genomic/internal/pkg/client"
	"genomic/internal/pkg/validate"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ClientApp is a scripted smoke client: it registers a patient, submits a
// sample sequence and reads the record back.
type ClientApp struct {
	ServerAddr    string `validate:"required"`
	TLSSkipVerify bool
}

// ClientAppCfg configures a ClientApp.
type ClientAppCfg interface {
	ApplyClientApp(*ClientApp) error
}

// NewClientApp creates a new ClientApp.
func NewClientApp(cfgs ...ClientAppCfg) (*ClientApp, error) {
	app := &ClientApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyClientApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ClientApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ClientApp failed")
	}
	return app, nil
}

// sampleContent matches catalog entry D001 exactly, so a submission against
// a fresh server reports one detection.
const sampleContent = ">SAMPLE_1\nACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTA\n"

// Run exercises the protocol end to end against the configured server.
func (app *ClientApp) Run(ctx context.Context, _ []string) error {
	c, err := client.NewClient(
		client.WithServerAddr(app.ServerAddr),
		client.WithTLSConfig(&tls.Config{
			InsecureSkipVerify: app.TLSSkipVerify, //nolint:gosec // operator opt-in for self-signed server certs
			MinVersion:         tls.VersionTLS12,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "create client failed")
	}
	if err := c.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect failed")
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		return errors.Wrap(err, "ping failed")
	}

	documentID := "DOC-" + strings.ToUpper(uuid.NewString()[:8])
	patientID, err := c.CreatePatient("Smoke Test Patient", documentID, "smoke@example.com", 42, "F", "created by genomic client")
	if err != nil {
		return errors.Wrap(err, "create patient failed")
	}
	logger.WithField("patient", patientID).Info("patient created")

	sum, detections, err := c.SubmitSequence(patientID, sampleContent)
	if err != nil {
		return errors.Wrap(err, "submit sequence failed")
	}
	logger.WithFields(logrus.Fields{
		"patient":    patientID,
		"checksum":   sum,
		"detections": len(detections),
	}).Info("sequence analyzed")
	for _, d := range detections {
		logger.WithFields(logrus.Fields{
			"disease":    d.DiseaseID,
			"name":       d.Name,
			"severity":   d.Severity,
			"similarity": d.Similarity,
		}).Info("disease detected")
	}

	data, err := c.GetPatient(patientID)
	if err != nil {
		return errors.Wrap(err, "get patient failed")
	}
	logger.WithFields(logrus.Fields{
		"patient":  data.ID,
		"checksum": data.ChecksumFasta,
		"size":     data.FileSizeBytes,
		"diseases": data.Diseases,
	}).Info("patient record")
	return nil
}
