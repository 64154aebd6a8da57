package internal

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag binds a cobra flag to a viper configuration key.
type Flag struct {
	Key     string
	Name    string
	Usage   string
	Default interface{}
}

var (
	EnvFlag              = Flag{Key: "ENV", Name: "env", Usage: "deployment environment name", Default: "development"}
	LogLevelFlag         = Flag{Key: "LOG_LEVEL", Name: "log-level", Usage: "log level (trace|debug|info|warn|error)", Default: "info"}
	PortFlag             = Flag{Key: "PORT", Name: "port", Usage: "server listen port", Default: 8443}
	HealthPortFlag       = Flag{Key: "HEALTH_PORT", Name: "health-port", Usage: "health and metrics HTTP port", Default: 9090}
	ServerAddrFlag       = Flag{Key: "SERVER_ADDR", Name: "server-addr", Usage: "server address the client connects to", Default: "localhost:8443"}
	DataDirFlag          = Flag{Key: "DATA_DIR", Name: "data-dir", Usage: "directory for patient data and reports", Default: "data"}
	CatalogDirFlag       = Flag{Key: "CATALOG_DIR", Name: "catalog-dir", Usage: "directory holding the disease catalog", Default: "disease_db"}
	TLSCertFlag          = Flag{Key: "TLS_CERT", Name: "tls-cert", Usage: "path to the TLS certificate", Default: ""}
	TLSKeyFlag           = Flag{Key: "TLS_KEY", Name: "tls-key", Usage: "path to the TLS private key", Default: ""}
	TLSSkipVerifyFlag    = Flag{Key: "TLS_SKIP_VERIFY", Name: "tls-skip-verify", Usage: "client skips server certificate verification", Default: false}
	MaxConnsFlag         = Flag{Key: "MAX_CONNS", Name: "max-conns", Usage: "maximum concurrently served connections", Default: 64}
	AnalysisDoneLineFlag = Flag{Key: "ANALYSIS_DONE_LINE", Name: "analysis-done-line", Usage: "emit ANALYSIS_COMPLETE after detection results", Default: false}
)

var allFlags = []*Flag{
	&EnvFlag,
	&LogLevelFlag,
	&PortFlag,
	&HealthPortFlag,
	&ServerAddrFlag,
	&DataDirFlag,
	&CatalogDirFlag,
	&TLSCertFlag,
	&TLSKeyFlag,
	&TLSSkipVerifyFlag,
	&MaxConnsFlag,
	&AnalysisDoneLineFlag,
}

// RegisterCommandFlags registers the given flags on cmd and binds them to
// their configuration keys.
func RegisterCommandFlags(cmd *cobra.Command, flags []*Flag) error {
	for _, f := range flags {
		switch d := f.Default.(type) {
		case string:
			cmd.PersistentFlags().String(f.Name, d, f.Usage)
		case int:
			cmd.PersistentFlags().Int(f.Name, d, f.Usage)
		case bool:
			cmd.PersistentFlags().Bool(f.Name, d, f.Usage)
		default:
			return errors.Errorf("unsupported flag type for %s", f.Name)
		}
		if err := viper.BindPFlag(f.Key, cmd.PersistentFlags().Lookup(f.Name)); err != nil {
			return errors.Wrapf(err, "bind flag %s failed", f.Name)
		}
	}
	return nil
}
