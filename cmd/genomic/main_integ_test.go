package main_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"genomic/internal/pkg/catalog"
	"genomic/internal/pkg/client"
	"genomic/internal/pkg/detector"
	"genomic/internal/pkg/metrics"
	"genomic/internal/pkg/patient"
	"genomic/internal/pkg/report"
	"genomic/internal/pkg/server"
	"genomic/internal/pkg/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// sampleD001 is catalog entry D001's reference sequence; submitting it must
// trigger a detection.
const sampleD001 = "ACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTA"

func startServer(t *testing.T, analysisDoneLine bool, lis net.Listener) {
	t.Helper()
	dir := t.TempDir()

	registry, err := patient.NewRegistry(filepath.Join(dir, "patients.csv"))
	require.NoError(t, err)
	reports := report.NewLog(filepath.Join(dir, "disease_reports.csv"))
	sequences := storage.NewFileStore(filepath.Join(dir, "fasta_files"))

	cat := catalog.NewStore(filepath.Join(dir, "disease_db"))
	require.NoError(t, cat.Load())
	det, err := detector.New(
		detector.WithCatalog(cat),
		detector.WithReporter(reports),
	)
	require.NoError(t, err)

	srv, err := server.NewServer(
		server.WithRegistry(registry),
		server.WithAnalyzer(det),
		server.WithSequenceStore(sequences),
		server.WithSummarizer(reports),
		server.WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
		server.WithMaxConns(16),
		server.WithAnalysisDoneLine(analysisDoneLine),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
}

func startPlainServer(t *testing.T, analysisDoneLine bool) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	startServer(t, analysisDoneLine, lis)
	return lis.Addr().String()
}

func connect(t *testing.T, addr string, cfgs ...client.Cfg) *client.Client {
	t.Helper()
	c, err := client.NewClient(append([]client.Cfg{
		client.WithServerAddr(addr),
		client.WithDrainTimeout(400 * time.Millisecond),
	}, cfgs...)...)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip()
	}
	addr := startPlainServer(t, false)
	c := connect(t, addr)

	require.NoError(t, c.Ping())

	patientID, err := c.CreatePatient("Ada Lovelace", "DOC1", "ada@example.com", 36, "F", "none")
	require.NoError(t, err)
	require.Equal(t, "P000001", patientID)

	content := ">S1\n" + sampleD001 + "\n"
	sum, detections, err := c.SubmitSequence(patientID, content)
	require.NoError(t, err)
	require.NotEmpty(t, detections)
	require.Equal(t, "D001", detections[0].DiseaseID)
	require.Equal(t, "100.00%", detections[0].Similarity)

	data, err := c.GetPatient(patientID)
	require.NoError(t, err)
	require.Equal(t, sum, data.ChecksumFasta)
	require.Equal(t, len(content), data.FileSizeBytes)
	require.Contains(t, data.Diseases, "D001")

	require.NoError(t, c.UpdatePatient(patientID, "Ada Renamed", "new@example.com", 37, "F", "updated"))
	data, err = c.GetPatient(patientID)
	require.NoError(t, err)
	require.Equal(t, "Ada Renamed", data.FullName)

	require.NoError(t, c.DeletePatient(patientID))
	_, err = c.GetPatient(patientID)
	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
}

func TestAnalysisDoneLine(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip()
	}
	addr := startPlainServer(t, true)
	// A generous drain timeout proves completion comes from the trailer,
	// not the deadline.
	c := connect(t, addr, client.WithDrainTimeout(10*time.Second))

	patientID, err := c.CreatePatient("Ada Lovelace", "DOC1", "ada@example.com", 36, "F", "")
	require.NoError(t, err)

	start := time.Now()
	_, detections, err := c.SubmitSequence(patientID, ">S1\n"+sampleD001+"\n")
	require.NoError(t, err)
	require.NotEmpty(t, detections)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestConcurrentClients(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip()
	}
	addr := startPlainServer(t, false)

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := client.NewClient(client.WithServerAddr(addr))
			if err == nil {
				err = c.Connect(context.Background())
			}
			if err != nil {
				errs[i] = err
				return
			}
			defer c.Close()
			ids[i], errs[i] = c.CreatePatient(
				fmt.Sprintf("Patient %d", i),
				fmt.Sprintf("DOC%d", i),
				fmt.Sprintf("p%d@example.com", i),
				20+i, "M", "",
			)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}
}

func TestTLSTransport(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip()
	}
	certFile, keyFile := writeSelfSignedCert(t)
	lis, err := server.NewTLSListener("127.0.0.1:0", certFile, keyFile)
	require.NoError(t, err)
	startServer(t, false, lis)

	c := connect(t, lis.Addr().String(), client.WithTLSConfig(&tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // self-signed test certificate
		MinVersion:         tls.VersionTLS12,
	}))
	require.NoError(t, c.Ping())
}

func writeSelfSignedCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "genomic-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")

	certOut := &strings.Builder{}
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, os.WriteFile(certFile, []byte(certOut.String()), 0o600))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut := &strings.Builder{}
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	require.NoError(t, os.WriteFile(keyFile, []byte(keyOut.String()), 0o600))
	return certFile, keyFile
}
