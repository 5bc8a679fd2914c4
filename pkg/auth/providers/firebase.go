package providers

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"google.golang.org/api/option"
)

var _ AuthProvider = &FirebaseAuthProvider{}

// FirebaseAuthProvider verifies Firebase ID tokens sent by room participants.
type FirebaseAuthProvider struct {
	client       *auth.Client
	checkRevoked bool
}

type NewFirebaseAuthProviderOptions struct {
	ProjectID string
	// CredentialsFile is a service account file. Empty means application default credentials.
	CredentialsFile string
	// CheckRevoked also rejects tokens of signed out or disabled users, at the cost of a lookup per request.
	CheckRevoked bool
}

func NewFirebaseAuthProvider(ctx context.Context, opts NewFirebaseAuthProviderOptions) (*FirebaseAuthProvider, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: opts.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %v", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get firebase auth client: %v", err)
	}

	return &FirebaseAuthProvider{
		client:       client,
		checkRevoked: opts.CheckRevoked,
	}, nil
}

func (p *FirebaseAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	var (
		token *auth.Token
		err   error
	)
	if p.checkRevoked {
		token, err = p.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	} else {
		token, err = p.client.VerifyIDToken(ctx, idToken)
	}
	if err != nil {
		return nil, fmt.Errorf("error verifying token: %v", err)
	}

	claims := &TokenClaims{UID: token.UID}
	if name, ok := token.Claims["name"].(string); ok {
		claims.Name = name
	}
	return claims, nil
}
