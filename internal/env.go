// Package internal holds process-wide configuration sourced from the
// environment and exposed to the CLI as flags.
package internal

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Configuration values populated by ValidateEnv. Environment variables use
// the GENOMIC_ prefix; flags registered via RegisterCommandFlags override them.
var (
	Env              string
	LogLevel         string
	Port             int
	HealthPort       int
	ServerAddr       string
	DataDir          string
	CatalogDir       string
	TLSCert          string
	TLSKey           string
	TLSSkipVerify    bool
	MaxConns         int
	AnalysisDoneLine bool
)

// ValidateEnv loads and checks the environment, populating the package-level
// configuration values.
func ValidateEnv() error {
	viper.SetEnvPrefix("GENOMIC")
	viper.AutomaticEnv()
	for _, f := range allFlags {
		viper.SetDefault(f.Key, f.Default)
	}

	Env = viper.GetString(EnvFlag.Key)
	LogLevel = viper.GetString(LogLevelFlag.Key)
	Port = viper.GetInt(PortFlag.Key)
	HealthPort = viper.GetInt(HealthPortFlag.Key)
	ServerAddr = viper.GetString(ServerAddrFlag.Key)
	DataDir = viper.GetString(DataDirFlag.Key)
	CatalogDir = viper.GetString(CatalogDirFlag.Key)
	TLSCert = viper.GetString(TLSCertFlag.Key)
	TLSKey = viper.GetString(TLSKeyFlag.Key)
	TLSSkipVerify = viper.GetBool(TLSSkipVerifyFlag.Key)
	MaxConns = viper.GetInt(MaxConnsFlag.Key)
	AnalysisDoneLine = viper.GetBool(AnalysisDoneLineFlag.Key)

	if Port < 1 || Port > 65535 {
		return errors.Errorf("port %d out of range", Port)
	}
	if HealthPort < 1 || HealthPort > 65535 {
		return errors.Errorf("health port %d out of range", HealthPort)
	}
	if MaxConns < 1 {
		return errors.Errorf("max connections %d must be positive", MaxConns)
	}
	if (TLSCert == "") != (TLSKey == "") {
		return errors.New("tls cert and key must be set together")
	}
	return nil
}
