// Package cfg implements functionality to configure an app.
//
// The configuration objects defined here need only be implemented once,
// but can be applied to multiple types. In order to add support for a new
// type, the configuration need only implement an ApplyX method.
package cfg

import (
	"fmt"

	"genomic/internal"
	"genomic/internal/app/apps"
)

// ListenCfg configures the server's listen and health addresses.
type ListenCfg struct {
	addr       string
	healthAddr string
}

// ListenFromEnv creates a new ListenCfg from the current environment.
func ListenFromEnv() *ListenCfg {
	return &ListenCfg{
		addr:       fmt.Sprintf(":%d", internal.Port),
		healthAddr: fmt.Sprintf(":%d", internal.HealthPort),
	}
}

// ApplyServerApp applies the ListenCfg to a ServerApp.
func (cfg ListenCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Addr = cfg.addr
	app.HealthAddr = cfg.healthAddr
	return nil
}

// TLSCfg configures transport credentials.
type TLSCfg struct {
	cert       string
	key        string
	skipVerify bool
}

// TLSFromEnv creates a new TLSCfg from the current environment.
func TLSFromEnv() *TLSCfg {
	return &TLSCfg{
		cert:       internal.TLSCert,
		key:        internal.TLSKey,
		skipVerify: internal.TLSSkipVerify,
	}
}

// ApplyServerApp applies the TLSCfg to a ServerApp.
func (cfg TLSCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.TLSCert = cfg.cert
	app.TLSKey = cfg.key
	return nil
}

// ApplyClientApp applies the TLSCfg to a ClientApp.
func (cfg TLSCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.TLSSkipVerify = cfg.skipVerify
	return nil
}

// DirsCfg configures the data and catalog directories.
type DirsCfg struct {
	dataDir    string
	catalogDir string
}

// DirsFromEnv creates a new DirsCfg from the current environment.
func DirsFromEnv() *DirsCfg {
	return &DirsCfg{
		dataDir:    internal.DataDir,
		catalogDir: internal.CatalogDir,
	}
}

// ApplyServerApp applies the DirsCfg to a ServerApp.
func (cfg DirsCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.DataDir = cfg.dataDir
	app.CatalogDir = cfg.catalogDir
	return nil
}

// LimitsCfg configures concurrency and protocol behavior.
type LimitsCfg struct {
	maxConns         int
	analysisDoneLine bool
}

// LimitsFromEnv creates a new LimitsCfg from the current environment.
func LimitsFromEnv() *LimitsCfg {
	return &LimitsCfg{
		maxConns:         internal.MaxConns,
		analysisDoneLine: internal.AnalysisDoneLine,
	}
}

// ApplyServerApp applies the LimitsCfg to a ServerApp.
func (cfg LimitsCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.MaxConns = cfg.maxConns
	app.AnalysisDoneLine = cfg.analysisDoneLine
	return nil
}

// ServerAddrCfg configures the address the client dials.
type ServerAddrCfg struct {
	addr string
}

// ServerAddrFromEnv creates a new ServerAddrCfg from the current environment.
func ServerAddrFromEnv() *ServerAddrCfg {
	return &ServerAddrCfg{addr: internal.ServerAddr}
}

// ApplyClientApp applies the ServerAddrCfg to a ClientApp.
func (cfg ServerAddrCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.ServerAddr = cfg.addr
	return nil
}
