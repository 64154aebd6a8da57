// Package handler implements the per-connection protocol dispatcher.
package handler

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"

	"genomic/internal/pkg/detector"
	"genomic/internal/pkg/fasta"
	"genomic/internal/pkg/log"
	"genomic/internal/pkg/metrics"
	"genomic/internal/pkg/patient"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Wire protocol literals.
const (
	Greeting     = "GENOMIC_SERVER_READY"
	Sentinel     = "END_PAYLOAD"
	AnalysisDone = "ANALYSIS_COMPLETE"
)

// Registry is the patient registry surface the dispatcher needs.
type Registry interface {
	Create(fullName, documentID, contactEmail string, age int, sex, clinicalNotes string) (patient.Patient, error)
	Get(id string) (patient.Patient, error)
	Update(p patient.Patient) error
	Delete(id string) (bool, error)
	ExistsByDocumentID(documentID string) bool
}

// Analyzer runs the matching engine, emitting matches as they are found.
type Analyzer interface {
	Analyze(patientID, sequence string, emit func(detector.Match))
}

// SequenceStore persists raw submitted payloads keyed by patient id.
type SequenceStore interface {
	Save(patientID, content string) error
}

// Summarizer reports the recorded detections for a patient.
type Summarizer interface {
	SummaryForPatient(patientID string) string
}

// Handler serves one client connection: a loop of pipe-delimited command
// lines, with SUBMIT_SEQUENCE expanding into a payload-streaming sub-mode.
type Handler struct {
	connUUID         uuid.UUID
	registry         Registry
	analyzer         Analyzer
	sequences        SequenceStore
	reports          Summarizer
	metrics          *metrics.Metrics
	analysisDoneLine bool

	rd *bufio.Reader
	wr *bufio.Writer
}

// HandlerCfg configures a Handler.
type HandlerCfg func(*Handler) error

// WithConnUUID sets the connection uuid used in log fields.
func WithConnUUID(id uuid.UUID) HandlerCfg {
	return func(h *Handler) error {
		h.connUUID = id
		return nil
	}
}

// WithRegistry sets the patient registry.
func WithRegistry(r Registry) HandlerCfg {
	return func(h *Handler) error {
		h.registry = r
		return nil
	}
}

// WithAnalyzer sets the matching engine.
func WithAnalyzer(a Analyzer) HandlerCfg {
	return func(h *Handler) error {
		h.analyzer = a
		return nil
	}
}

// WithSequenceStore sets the per-patient payload store.
func WithSequenceStore(s SequenceStore) HandlerCfg {
	return func(h *Handler) error {
		h.sequences = s
		return nil
	}
}

// WithSummarizer sets the detection report reader.
func WithSummarizer(s Summarizer) HandlerCfg {
	return func(h *Handler) error {
		h.reports = s
		return nil
	}
}

// WithMetrics sets the metrics sink. Optional.
func WithMetrics(m *metrics.Metrics) HandlerCfg {
	return func(h *Handler) error {
		h.metrics = m
		return nil
	}
}

// WithAnalysisDoneLine enables the ANALYSIS_COMPLETE trailer after detection
// results. Off by default for compatibility with clients that infer
// completion from a read timeout.
func WithAnalysisDoneLine(enabled bool) HandlerCfg {
	return func(h *Handler) error {
		h.analysisDoneLine = enabled
		return nil
	}
}

// NewHandler creates a new Handler with the given configuration.
func NewHandler(cfgs ...HandlerCfg) (*Handler, error) {
	h := &Handler{}
	for _, cfg := range cfgs {
		if err := cfg(h); err != nil {
			return nil, errors.Wrap(err, "apply Handler cfg failed")
		}
	}
	if h.registry == nil {
		return nil, errors.New("registry is required")
	}
	if h.analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if h.sequences == nil {
		return nil, errors.New("sequence store is required")
	}
	if h.reports == nil {
		return nil, errors.New("summarizer is required")
	}
	return h, nil
}

// Run serves conn until the client disconnects or the context is cancelled.
// A failing command is reported inline as ERROR|<reason> and never closes
// the connection by itself.
func (h *Handler) Run(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	h.rd = bufio.NewReader(conn)
	h.wr = bufio.NewWriter(conn)

	if err := h.send(Greeting); err != nil {
		return errors.Wrap(err, "send greeting failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := h.rd.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.WithFields(log.ConnFields(h.connUUID, conn)).Info("client disconnected")
				return nil
			}
			return errors.Wrap(err, "read command failed")
		}
		line = strings.TrimRight(line, "\r\n")

		if err := h.dispatch(line); err != nil {
			logger.WithFields(log.ConnFields(h.connUUID, conn)).WithError(err).Error("command failed")
			if werr := h.send("ERROR|" + wireMessage(err)); werr != nil {
				return errors.Wrap(werr, "write error reply failed")
			}
		}
	}
}

func (h *Handler) dispatch(line string) error {
	fields := strings.Split(line, "|")
	op := fields[0]
	h.metrics.IncCommand(op)
	logger.WithFields(log.CommandFields(h.connUUID, op)).Debug("dispatching command")

	switch op {
	case "CREATE_PATIENT":
		return h.handleCreatePatient(fields)
	case "GET_PATIENT":
		return h.handleGetPatient(fields)
	case "UPDATE_PATIENT":
		return h.handleUpdatePatient(fields)
	case "DELETE_PATIENT":
		return h.handleDeletePatient(fields)
	case "SUBMIT_SEQUENCE":
		return h.handleSubmitSequence(fields)
	case "PING":
		return h.send("PONG")
	default:
		return h.send("ERROR|Unknown command: " + op)
	}
}

func (h *Handler) handleCreatePatient(fields []string) error {
	if len(fields) < 7 {
		return h.send("ERROR|Invalid CREATE_PATIENT format")
	}
	age, err := strconv.Atoi(fields[4])
	if err != nil {
		return h.send("ERROR|Invalid age: " + fields[4])
	}
	if h.registry.ExistsByDocumentID(fields[2]) {
		return h.send("ERROR|Patient with that document id already exists")
	}
	p, err := h.registry.Create(fields[1], fields[2], fields[3], age, fields[5], fields[6])
	if err != nil {
		if errors.Is(err, patient.ErrDuplicateDocumentID) {
			return h.send("ERROR|Patient with that document id already exists")
		}
		return errors.Wrap(err, "create patient failed")
	}
	return h.send("PATIENT_CREATED|" + p.ID)
}

func (h *Handler) handleGetPatient(fields []string) error {
	if len(fields) < 2 {
		return h.send("ERROR|Invalid GET_PATIENT format")
	}
	p, err := h.registry.Get(fields[1])
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return h.send("ERROR|Patient not found")
		}
		return errors.Wrap(err, "get patient failed")
	}
	if p.Deleted {
		return h.send("ERROR|Patient is inactive")
	}

	parts := []string{
		"PATIENT_DATA",
		p.ID,
		p.FullName,
		p.DocumentID,
		p.ContactEmail,
		p.RegistrationDate,
		strconv.Itoa(p.Age),
		p.Sex,
		p.ClinicalNotes,
		p.ChecksumFasta,
		strconv.Itoa(p.FileSizeBytes),
		h.reports.SummaryForPatient(p.ID),
	}
	return h.send(strings.Join(parts, "|"))
}

func (h *Handler) handleUpdatePatient(fields []string) error {
	if len(fields) < 7 {
		return h.send("ERROR|Invalid UPDATE_PATIENT format")
	}
	age, err := strconv.Atoi(fields[4])
	if err != nil {
		return h.send("ERROR|Invalid age: " + fields[4])
	}
	p, err := h.registry.Get(fields[1])
	if err != nil || p.Deleted {
		if err != nil && !errors.Is(err, patient.ErrNotFound) {
			return errors.Wrap(err, "get patient failed")
		}
		return h.send("ERROR|Patient not found or inactive")
	}

	p.FullName = fields[2]
	p.ContactEmail = fields[3]
	p.Age = age
	p.Sex = fields[5]
	p.ClinicalNotes = fields[6]
	if err := h.registry.Update(p); err != nil {
		return errors.Wrap(err, "update patient failed")
	}
	return h.send("PATIENT_UPDATED|" + p.ID)
}

func (h *Handler) handleDeletePatient(fields []string) error {
	if len(fields) < 2 {
		return h.send("ERROR|Invalid DELETE_PATIENT format")
	}
	deleted, err := h.registry.Delete(fields[1])
	if err != nil {
		return errors.Wrap(err, "delete patient failed")
	}
	if !deleted {
		return h.send("ERROR|Patient not found")
	}
	return h.send("PATIENT_DELETED|" + fields[1])
}

func (h *Handler) handleSubmitSequence(fields []string) error {
	if len(fields) < 4 {
		return h.send("ERROR|Invalid SUBMIT_SEQUENCE format")
	}
	patientID := fields[1]
	claimed := fields[2]
	size, err := strconv.Atoi(fields[3])
	if err != nil {
		return h.send("ERROR|Invalid byte size: " + fields[3])
	}
	p, err := h.registry.Get(patientID)
	if err != nil || p.Deleted {
		if err != nil && !errors.Is(err, patient.ErrNotFound) {
			return errors.Wrap(err, "get patient failed")
		}
		return h.send("ERROR|Patient not found or inactive")
	}

	if err := h.send("READY_FOR_PAYLOAD"); err != nil {
		return errors.Wrap(err, "send payload prompt failed")
	}

	content, err := h.readPayload()
	if err != nil {
		return errors.Wrap(err, "read payload failed")
	}

	if !fasta.Validate(content) {
		return h.send("ERROR|Invalid FASTA format")
	}
	if fasta.Checksum(content) != claimed {
		return h.send("ERROR|Checksum mismatch")
	}

	p.ChecksumFasta = claimed
	p.FileSizeBytes = size
	if err := h.registry.Update(p); err != nil {
		return errors.Wrap(err, "update patient failed")
	}
	if err := h.sequences.Save(patientID, content); err != nil {
		return errors.Wrap(err, "save sequence failed")
	}

	if err := h.send("PAYLOAD_RECEIVED"); err != nil {
		return errors.Wrap(err, "send payload ack failed")
	}

	var sendErr error
	h.analyzer.Analyze(patientID, fasta.ExtractSequence(content), func(m detector.Match) {
		if sendErr != nil {
			return
		}
		h.metrics.IncDetection()
		sendErr = h.send(strings.Join([]string{
			"DISEASE_DETECTED",
			m.DiseaseID,
			m.Name,
			strconv.Itoa(m.Severity),
			m.Percent(),
		}, "|"))
	})
	if sendErr != nil {
		return errors.Wrap(sendErr, "send detection failed")
	}
	if h.analysisDoneLine {
		return h.send(AnalysisDone)
	}
	return nil
}

// readPayload consumes verbatim lines up to the sentinel, re-appending a
// line break to each. EOF before the sentinel ends the stream with whatever
// was received; validation decides its fate.
func (h *Handler) readPayload() (string, error) {
	var b strings.Builder
	for {
		line, err := h.rd.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return "", errors.Wrap(err, "read payload line failed")
		}
		line = strings.TrimRight(line, "\r\n")
		if line == Sentinel {
			return b.String(), nil
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

// send writes one protocol line and flushes so results interleave with
// ongoing work on the same connection.
func (h *Handler) send(line string) error {
	if _, err := h.wr.WriteString(line + "\n"); err != nil {
		return errors.Wrap(err, "write line failed")
	}
	return errors.Wrap(h.wr.Flush(), "flush line failed")
}

// wireMessage maps internal errors to the reason reported on the wire.
func wireMessage(err error) string {
	switch {
	case errors.Is(err, patient.ErrDuplicateDocumentID):
		return "Patient with that document id already exists"
	case errors.Is(err, patient.ErrNotFound):
		return "Patient not found"
	}
	return err.Error()
}
