// Package client implements the genomic wire protocol client.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	"genomic/internal/pkg/fasta"
	"genomic/internal/pkg/handler"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultDrainTimeout bounds the wait for detection results after a
// submission. The protocol has no completion line by default, so the client
// treats a read timeout as "no more results".
const DefaultDrainTimeout = 5 * time.Second

// PatientData is a decoded PATIENT_DATA reply.
type PatientData struct {
	ID               string
	FullName         string
	DocumentID       string
	ContactEmail     string
	RegistrationDate string
	Age              int
	Sex              string
	ClinicalNotes    string
	ChecksumFasta    string
	FileSizeBytes    int
	Diseases         string
}

// Detection is one DISEASE_DETECTED result line.
type Detection struct {
	DiseaseID  string
	Name       string
	Severity   int
	Similarity string
}

// Client speaks the line protocol over a single connection. Not safe for
// concurrent use; the protocol is strictly request/response per connection.
type Client struct {
	addr         string
	tlsConfig    *tls.Config
	drainTimeout time.Duration

	conn net.Conn
	rd   *bufio.Reader
}

// Cfg configures a Client.
type Cfg func(*Client) error

// WithServerAddr sets the address Connect dials.
func WithServerAddr(addr string) Cfg {
	return func(c *Client) error {
		c.addr = addr
		return nil
	}
}

// WithTLSConfig sets the TLS client configuration. Without one, Connect
// dials plaintext; useful only against a plaintext test listener.
func WithTLSConfig(cfg *tls.Config) Cfg {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithDrainTimeout overrides the detection-result drain timeout.
func WithDrainTimeout(d time.Duration) Cfg {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("drain timeout must be positive")
		}
		c.drainTimeout = d
		return nil
	}
}

// WithConn attaches an already established connection; Connect then only
// consumes the server greeting.
func WithConn(conn net.Conn) Cfg {
	return func(c *Client) error {
		c.conn = conn
		return nil
	}
}

// NewClient creates a new Client with the given configuration.
func NewClient(cfgs ...Cfg) (*Client, error) {
	c := &Client{drainTimeout: DefaultDrainTimeout}
	for _, cfg := range cfgs {
		if err := cfg(c); err != nil {
			return nil, errors.Wrap(err, "apply Client cfg failed")
		}
	}
	if c.addr == "" && c.conn == nil {
		return nil, errors.New("server address is required")
	}
	return c, nil
}

// Connect establishes the connection and consumes the server greeting.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn == nil {
		dialer := &net.Dialer{}
		if c.tlsConfig != nil {
			conn, err := (&tls.Dialer{NetDialer: dialer, Config: c.tlsConfig}).DialContext(ctx, "tcp", c.addr)
			if err != nil {
				return errors.Wrap(err, "dial TLS failed")
			}
			c.conn = conn
		} else {
			conn, err := dialer.DialContext(ctx, "tcp", c.addr)
			if err != nil {
				return errors.Wrap(err, "dial failed")
			}
			c.conn = conn
		}
	}
	c.rd = bufio.NewReader(c.conn)

	greeting, err := c.readLine()
	if err != nil {
		return errors.Wrap(err, "read greeting failed")
	}
	if greeting != handler.Greeting {
		return errors.Wrapf(ErrUnexpectedReply, "greeting %q", greeting)
	}
	logger.WithField("addr", c.conn.RemoteAddr()).Debug("connected to genomic server")
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return errors.Wrap(c.conn.Close(), "close connection failed")
}

// CreatePatient registers a patient and returns its assigned id.
func (c *Client) CreatePatient(fullName, documentID, contactEmail string, age int, sex, clinicalNotes string) (string, error) {
	reply, err := c.roundTrip("CREATE_PATIENT", fullName, documentID, contactEmail, strconv.Itoa(age), sex, clinicalNotes)
	if err != nil {
		return "", err
	}
	fields := strings.Split(reply, "|")
	if fields[0] != "PATIENT_CREATED" || len(fields) < 2 {
		return "", errors.Wrapf(ErrUnexpectedReply, "reply %q", reply)
	}
	return fields[1], nil
}

// GetPatient fetches one patient record.
func (c *Client) GetPatient(id string) (PatientData, error) {
	reply, err := c.roundTrip("GET_PATIENT", id)
	if err != nil {
		return PatientData{}, err
	}
	fields := strings.Split(reply, "|")
	if fields[0] != "PATIENT_DATA" || len(fields) < 12 {
		return PatientData{}, errors.Wrapf(ErrUnexpectedReply, "reply %q", reply)
	}
	age, err := strconv.Atoi(fields[6])
	if err != nil {
		return PatientData{}, errors.Wrap(err, "parse age failed")
	}
	size, err := strconv.Atoi(fields[10])
	if err != nil {
		return PatientData{}, errors.Wrap(err, "parse file size failed")
	}
	return PatientData{
		ID:               fields[1],
		FullName:         fields[2],
		DocumentID:       fields[3],
		ContactEmail:     fields[4],
		RegistrationDate: fields[5],
		Age:              age,
		Sex:              fields[7],
		ClinicalNotes:    fields[8],
		ChecksumFasta:    fields[9],
		FileSizeBytes:    size,
		Diseases:         fields[11],
	}, nil
}

// UpdatePatient overwrites a patient's mutable fields.
func (c *Client) UpdatePatient(id, fullName, contactEmail string, age int, sex, clinicalNotes string) error {
	reply, err := c.roundTrip("UPDATE_PATIENT", id, fullName, contactEmail, strconv.Itoa(age), sex, clinicalNotes)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "PATIENT_UPDATED|") {
		return errors.Wrapf(ErrUnexpectedReply, "reply %q", reply)
	}
	return nil
}

// DeletePatient soft-deletes a patient.
func (c *Client) DeletePatient(id string) error {
	reply, err := c.roundTrip("DELETE_PATIENT", id)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "PATIENT_DELETED|") {
		return errors.Wrapf(ErrUnexpectedReply, "reply %q", reply)
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping() error {
	reply, err := c.roundTrip("PING")
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return errors.Wrapf(ErrUnexpectedReply, "reply %q", reply)
	}
	return nil
}

// SubmitSequence streams a FASTA record for patientID, then drains detection
// results until the drain timeout elapses or the server signals completion.
// The checksum sent with the command is computed locally over the exact
// bytes streamed.
func (c *Client) SubmitSequence(patientID, content string) (string, []Detection, error) {
	if c.conn == nil {
		return "", nil, ErrNotConnected
	}
	sum := fasta.Checksum(content)

	reply, err := c.roundTrip("SUBMIT_SEQUENCE", patientID, sum, strconv.Itoa(len(content)))
	if err != nil {
		return "", nil, err
	}
	if reply != "READY_FOR_PAYLOAD" {
		return "", nil, errors.Wrapf(ErrUnexpectedReply, "reply %q", reply)
	}

	payload := strings.TrimRight(content, "\n")
	for _, line := range strings.Split(payload, "\n") {
		if err := c.writeLine(line); err != nil {
			return "", nil, errors.Wrap(err, "stream payload line failed")
		}
	}
	if err := c.writeLine(handler.Sentinel); err != nil {
		return "", nil, errors.Wrap(err, "stream sentinel failed")
	}

	ack, err := c.readLine()
	if err != nil {
		return "", nil, errors.Wrap(err, "read payload ack failed")
	}
	if strings.HasPrefix(ack, "ERROR|") {
		return "", nil, &ServerError{Reason: strings.TrimPrefix(ack, "ERROR|")}
	}
	if ack != "PAYLOAD_RECEIVED" {
		return "", nil, errors.Wrapf(ErrUnexpectedReply, "reply %q", ack)
	}

	detections, err := c.drainDetections()
	if err != nil {
		return "", nil, err
	}
	return sum, detections, nil
}

// drainDetections reads DISEASE_DETECTED lines under a read deadline; a
// timeout means the analysis is over.
func (c *Client) drainDetections() ([]Detection, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.drainTimeout)); err != nil {
		return nil, errors.Wrap(err, "set read deadline failed")
	}
	defer c.conn.SetReadDeadline(time.Time{})

	var detections []Detection
	for {
		line, err := c.readLine()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return detections, nil
			}
			return detections, errors.Wrap(err, "read detection line failed")
		}
		if line == handler.AnalysisDone {
			return detections, nil
		}
		fields := strings.Split(line, "|")
		if fields[0] != "DISEASE_DETECTED" || len(fields) < 5 {
			return detections, errors.Wrapf(ErrUnexpectedReply, "reply %q", line)
		}
		severity, err := strconv.Atoi(fields[3])
		if err != nil {
			return detections, errors.Wrap(err, "parse severity failed")
		}
		detections = append(detections, Detection{
			DiseaseID:  fields[1],
			Name:       fields[2],
			Severity:   severity,
			Similarity: fields[4],
		})
	}
}

func (c *Client) roundTrip(parts ...string) (string, error) {
	if c.conn == nil {
		return "", ErrNotConnected
	}
	if err := c.writeLine(strings.Join(parts, "|")); err != nil {
		return "", errors.Wrap(err, "write command failed")
	}
	reply, err := c.readLine()
	if err != nil {
		return "", errors.Wrap(err, "read reply failed")
	}
	if strings.HasPrefix(reply, "ERROR|") {
		return "", &ServerError{Reason: strings.TrimPrefix(reply, "ERROR|")}
	}
	return reply, nil
}

func (c *Client) writeLine(line string) error {
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *Client) readLine() (string, error) {
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
