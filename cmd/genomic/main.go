// Package main is the genomic server application entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"genomic/internal"
	"genomic/internal/app/apps"
	"genomic/internal/app/cfg"
	"genomic/internal/pkg/log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI command definitions.
var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	rootCmd = &cobra.Command{
		Use: "genomic",
		RunE: func(*cobra.Command, []string) error {
			return nil
		},
	}

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Starts the genomic protocol server.",
		RunE:  runCmd,
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Runs a scripted genomic protocol client against a server.",
		RunE:  runCmd,
	}
)

func newApp(_ context.Context, cmd *cobra.Command, args []string) (apps.App, []string, error) {
	var err error
	var app apps.App
	switch cmd.Name() {
	case "server":
		app, err = apps.NewServerApp(
			cfg.ListenFromEnv(),
			cfg.TLSFromEnv(),
			cfg.DirsFromEnv(),
			cfg.LimitsFromEnv(),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new server app failed")
		}
		return app, args, nil
	case "client":
		app, err = apps.NewClientApp(
			cfg.ServerAddrFromEnv(),
			cfg.TLSFromEnv(),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new client app failed")
		}
		return app, args, nil
	default:
		return nil, nil, fmt.Errorf("unknown command: %s", cmd.Name())
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := chainedCheck(
		ctx,
		envCheck,
	); err != nil {
		return errors.Wrap(err, "chained check failed")
	}
	app, args, err := newApp(ctx, cmd, args)
	if err != nil {
		return errors.Wrapf(err, "new %s app failed", cmd.Name())
	}
	return errors.Wrap(app.Run(ctx, args), "run app failed")
}

func envCheck(context.Context) error {
	err := internal.ValidateEnv()
	if err != nil {
		return errors.Wrap(err, "validate env failed")
	}
	log.SetLogger(internal.LogLevel)
	return nil
}

func chainedCheck(ctx context.Context, checks ...func(context.Context) error) error {
	for _, check := range checks {
		err := check(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	err := internal.RegisterCommandFlags(rootCmd, []*internal.Flag{
		&internal.EnvFlag,
		&internal.LogLevelFlag,

		&internal.PortFlag,
		&internal.HealthPortFlag,
		&internal.ServerAddrFlag,

		&internal.DataDirFlag,
		&internal.CatalogDirFlag,
		&internal.TLSCertFlag,
		&internal.TLSKeyFlag,
		&internal.TLSSkipVerifyFlag,

		&internal.MaxConnsFlag,
		&internal.AnalysisDoneLineFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}
	rootCmd.AddCommand(serverCmd, clientCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatalln(err)
	}
}
