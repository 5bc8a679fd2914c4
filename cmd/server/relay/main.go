package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	authproviders "github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/providers"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/config"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub/memory"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/relay"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/version"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	port                 int
	logLevel             string
	mailboxSize          int
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
		Use:           "relay",
		Short:         "Relays room broadcasts and presence between the two participants.",
		Args:          cobra.NoArgs,
		Version:       version.Get(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&opts.port, "port", 8081, "port to listen on")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level")
	fs.IntVar(&opts.mailboxSize, "mailbox-size", 256, "events buffered per connection before it is dropped")
	fs.StringVar(&opts.firebaseProjectID, "firebase-project-id", "", "require Firebase ID tokens for this project")
	fs.StringVar(&opts.firebaseCredsFile, "firebase-credentials-file", "", "service account file for the Firebase project")
	fs.BoolVar(&opts.firebaseCheckRevoked, "firebase-check-revoked", false, "also reject revoked Firebase tokens")
	fs.StringArrayVar(&opts.staticTokens, "static-token", nil, "require token=uid[:name] instead of Firebase, for local development")
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
	log.Info("Starting relay server version %s", version.Get())

	serverOpts := relay.NewWSServerOptions{
		Port: opts.port,
		Hub: memory.NewHub(memory.NewHubOptions{
			MaxSubscribers: relay.ParticipantsPerTopic,
			MailboxSize:    opts.mailboxSize,
		}),
	}
	switch {
	case opts.firebaseProjectID != "":
		provider, err := authproviders.NewFirebaseAuthProvider(ctx, authproviders.NewFirebaseAuthProviderOptions{
			ProjectID:       opts.firebaseProjectID,
			CredentialsFile: opts.firebaseCredsFile,
			CheckRevoked:    opts.firebaseCheckRevoked,
		})
		if err != nil {
			return fmt.Errorf("failed to create Firebase auth provider: %v", err)
		}
		serverOpts.AuthProvider = provider
	case len(opts.staticTokens) > 0:
		provider, err := authproviders.ParseStaticTokens(opts.staticTokens)
		if err != nil {
			return err
		}
		serverOpts.AuthProvider = provider
	default:
		log.Warn("No auth provider configured, accepting anonymous connections")
	}
	if opts.tlsCertFile != "" && opts.tlsKeyFile != "" {
		serverOpts.TLS = &relay.TLSConfig{
			CertFile: opts.tlsCertFile,
			KeyFile:  opts.tlsKeyFile,
		}
	}
	server := relay.NewWSServer(serverOpts)
	go server.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Info("Shutting down relay server")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
	return nil
}
