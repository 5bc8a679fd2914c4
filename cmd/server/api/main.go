package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/api"
	authproviders "github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/providers"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/config"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/registry"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/roomcode"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/version"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	port                 int
	allowOrigin          string
	logLevel             string
	databaseURL          string
	migrationsDir        string
	firebaseProjectID    string
	firebaseCredsFile    string
	firebaseCheckRevoked bool
	staticTokens         []string
	tlsCertFile          string
	tlsKeyFile           string
}

func main() {
	cmd, err := newCmd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCmd() (*cobra.Command, error) {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "api",
		Short:         "Serves the room registry API.",
		Args:          cobra.NoArgs,
		Version:       version.Get(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&opts.port, "port", 9090, "port to listen on")
	fs.StringVar(&opts.allowOrigin, "allow-origin", "*", "comma-separated list of allowed origins, or *")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level")
	fs.StringVar(&opts.databaseURL, "database-url", "sqlite://skyshield.db", "sqlite://, postgresql:// or memory:// connection string")
	fs.StringVar(&opts.migrationsDir, "migrations-dir", "./migrations", "directory holding sqlite and postgres migrations")
	fs.StringVar(&opts.firebaseProjectID, "firebase-project-id", "", "verify Firebase ID tokens for this project")
	fs.StringVar(&opts.firebaseCredsFile, "firebase-credentials-file", "", "service account file for the Firebase project")
	fs.BoolVar(&opts.firebaseCheckRevoked, "firebase-check-revoked", false, "also reject revoked Firebase tokens")
	fs.StringArrayVar(&opts.staticTokens, "static-token", nil, "accept token=uid[:name] instead of Firebase, for local development")
	fs.StringVar(&opts.tlsCertFile, "tls-cert-file", "", "path to tls certificate")
	fs.StringVar(&opts.tlsKeyFile, "tls-key-file", "", "path to tls key")

	if _, err := config.Bind(fs); err != nil {
		return nil, err
	}
	return cmd, nil
}

func run(ctx context.Context, opts *options) error {
	if err := config.SetupLogging(opts.logLevel); err != nil {
		return err
	}
	log.Info("Starting api server version %s", version.Get())

	authProvider, err := newAuthProvider(ctx, opts)
	if err != nil {
		return err
	}

	repository, err := repositories.NewRepositoryFromURL(ctx, opts.databaseURL, opts.migrationsDir)
	if err != nil {
		return err
	}
	defer repository.Close(ctx)

	rooms := registry.NewLocal(registry.NewLocalOptions{
		Repository: repository,
		Codes:      roomcode.NewGenerator(rand.Reader),
	})
	serverOpts := api.NewAPIServerOptions{
		Port:         opts.port,
		AllowOrigin:  opts.allowOrigin,
		AuthProvider: authProvider,
		Registry:     rooms,
	}
	if opts.tlsCertFile != "" && opts.tlsKeyFile != "" {
		serverOpts.TLS = &api.TLSConfig{
			CertFile: opts.tlsCertFile,
			KeyFile:  opts.tlsKeyFile,
		}
	}
	server := api.NewAPIServer(serverOpts)
	go server.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Info("Shutting down api server")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
	return nil
}

func newAuthProvider(ctx context.Context, opts *options) (authproviders.AuthProvider, error) {
	if opts.firebaseProjectID != "" {
		provider, err := authproviders.NewFirebaseAuthProvider(ctx, authproviders.NewFirebaseAuthProviderOptions{
			ProjectID:       opts.firebaseProjectID,
			CredentialsFile: opts.firebaseCredsFile,
			CheckRevoked:    opts.firebaseCheckRevoked,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Firebase auth provider: %v", err)
		}
		return provider, nil
	}
	if len(opts.staticTokens) > 0 {
		log.Warn("Using static tokens for authentication")
		return authproviders.ParseStaticTokens(opts.staticTokens)
	}
	return nil, errors.New("either --firebase-project-id or --static-token must be set")
}
