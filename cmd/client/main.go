package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/identity"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/config"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub/mqtt"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub/redis"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub/ws"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/registry"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/session"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/version"
	"github.com/spf13/cobra"
)

const leaveTimeout = 10 * time.Second

type options struct {
	logLevel       string
	registryURL    string
	transport      string
	relayURL       string
	redisURL       string
	mqttBroker     string
	mqttUsername   string
	mqttPassword   string
	reconnectAfter time.Duration
	token          string
	userID         string
	displayName    string
	firebaseAPIKey string
	email          string
	password       string
	interval       time.Duration
	qrFile         string
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
		Use:           "client",
		Short:         "Hosts or joins a two-player room.",
		Version:       version.Get(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	fs.StringVar(&opts.registryURL, "registry-url", "http://localhost:9090", "room registry API")
	fs.StringVar(&opts.transport, "transport", "ws", "realtime transport: ws, redis or mqtt")
	fs.StringVar(&opts.relayURL, "relay-url", "ws://localhost:8081/ws", "relay endpoint for the ws transport")
	fs.StringVar(&opts.redisURL, "redis-url", "redis://localhost:6379/0", "server for the redis transport")
	fs.StringVar(&opts.mqttBroker, "mqtt-broker", "tcp://localhost:1883", "broker for the mqtt transport")
	fs.StringVar(&opts.mqttUsername, "mqtt-username", "", "mqtt username")
	fs.StringVar(&opts.mqttPassword, "mqtt-password", "", "mqtt password")
	fs.DurationVar(&opts.reconnectAfter, "reconnect-timeout", 30*time.Second, "how long the redis or mqtt transport may stay disconnected before the room is left")
	fs.StringVar(&opts.token, "token", "", "bearer token, used with --user-id instead of signing in")
	fs.StringVar(&opts.userID, "user-id", "", "user ID the token belongs to")
	fs.StringVar(&opts.displayName, "display-name", "", "name shown to the other participant")
	fs.StringVar(&opts.firebaseAPIKey, "firebase-api-key", "", "sign in with Firebase using this web API key")
	fs.StringVar(&opts.email, "email", "", "Firebase account email")
	fs.StringVar(&opts.password, "password", "", "Firebase account password")

	cmd.AddCommand(newHostCmd(opts), newJoinCmd(opts))

	if _, err := config.Bind(fs); err != nil {
		return nil, err
	}
	for _, sub := range cmd.Commands() {
		if _, err := config.Bind(sub.Flags()); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

// newController signs in and wires a controller for the configured transport.
func newController(ctx context.Context, opts *options) (*session.Controller, error) {
	if err := config.SetupLogging(opts.logLevel); err != nil {
		return nil, err
	}

	holder, err := signIn(ctx, opts)
	if err != nil {
		return nil, err
	}

	rooms, err := registry.NewHTTP(registry.NewHTTPOptions{BaseURL: opts.registryURL, Tokens: holder})
	if err != nil {
		return nil, err
	}

	transport, err := newTransport(ctx, opts, holder)
	if err != nil {
		return nil, err
	}

	return session.NewController(session.NewControllerOptions{
		Identity:  holder,
		Registry:  rooms,
		Transport: transport,
	}), nil
}

func signIn(ctx context.Context, opts *options) (*identity.Holder, error) {
	switch {
	case opts.firebaseAPIKey != "":
		holder := identity.NewHolder()
		signIn := identity.NewFirebaseSignIn(identity.NewFirebaseSignInOptions{APIKey: opts.firebaseAPIKey})
		if err := signIn.SignIn(ctx, holder, opts.email, opts.password); err != nil {
			return nil, err
		}
		return holder, nil
	case opts.token != "" && opts.userID != "":
		return identity.NewSignedInHolder(identity.User{ID: opts.userID, DisplayName: opts.displayName}, opts.token), nil
	default:
		return nil, errors.New("either --firebase-api-key or --token with --user-id must be set")
	}
}

func newTransport(ctx context.Context, opts *options, tokens ws.TokenSource) (pubsub.Transport, error) {
	switch opts.transport {
	case "ws":
		return ws.NewTransport(ws.NewTransportOptions{URL: opts.relayURL, Tokens: tokens}), nil
	case "redis":
		client, err := redis.NewClient(opts.redisURL)
		if err != nil {
			return nil, err
		}
		if err := redis.Ping(ctx, client); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %v", err)
		}
		return redis.NewTransport(redis.NewTransportOptions{
			Client:           client,
			ReconnectTimeout: opts.reconnectAfter,
		}), nil
	case "mqtt":
		return mqtt.NewTransport(mqtt.NewTransportOptions{
			Broker:           opts.mqttBroker,
			Username:         opts.mqttUsername,
			Password:         opts.mqttPassword,
			ReconnectTimeout: opts.reconnectAfter,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %s", opts.transport)
	}
}

// runUntilDone blocks until a signal arrives or done is closed, then leaves the room.
func runUntilDone(controller *session.Controller, done <-chan struct{}) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-interrupt:
	case <-done:
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	teardown := controller.LeaveRoom(ctx)
	if !teardown.OK() {
		log.Warn("Left the room with errors: %v", teardown.Err())
	}
	if err := controller.LastError(); err != nil && session.IsKind(err, session.KindConnection) {
		return err
	}
	return nil
}
