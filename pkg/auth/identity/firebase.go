package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
)

const (
	// DefaultFirebaseEndpoint is the Firebase Auth REST API.
	DefaultFirebaseEndpoint = "https://identitytoolkit.googleapis.com/v1"
)

// ErrorResponseBody is the response body for an error
// https://firebase.google.com/docs/reference/rest/auth#section-error-format
type ErrorResponseBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	ErrorInvalidEmail            = "INVALID_EMAIL"
	ErrorInvalidLoginCredentials = "INVALID_LOGIN_CREDENTIALS"
	ErrorTooManyAttempts         = "TOO_MANY_ATTEMPTS_TRY_LATER"
)

// LoginRequestBody is the request body for the login endpoint
type LoginRequestBody struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// LoginResponseBody is the response body for the login endpoint
type LoginResponseBody struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	DisplayName  string `json:"displayName"`
	Registered   bool   `json:"registered"`
}

// FirebaseSignIn signs users in with the Firebase Auth REST API.
type FirebaseSignIn struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

type NewFirebaseSignInOptions struct {
	APIKey string
	// Endpoint defaults to DefaultFirebaseEndpoint.
	Endpoint string
	Client   *http.Client
}

func NewFirebaseSignIn(opts NewFirebaseSignInOptions) *FirebaseSignIn {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultFirebaseEndpoint
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &FirebaseSignIn{
		apiKey:   opts.APIKey,
		endpoint: endpoint,
		client:   client,
	}
}

// SignIn exchanges email and password for an ID token and stores the result in holder.
// https://firebase.google.com/docs/reference/rest/auth#section-sign-in-email-password
func (f *FirebaseSignIn) SignIn(ctx context.Context, holder *Holder, email string, password string) error {
	if email == "" {
		return fmt.Errorf("missing email")
	}
	if password == "" {
		return fmt.Errorf("missing password")
	}

	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(&LoginRequestBody{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}); err != nil {
		return fmt.Errorf("error encoding request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint+"/accounts:signInWithPassword?key="+f.apiKey, body)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error("error response status: %s", resp.Status)
		errorResponse := &ErrorResponseBody{}
		if err := json.NewDecoder(resp.Body).Decode(errorResponse); err != nil {
			return fmt.Errorf("failed to decode error response: %v", err)
		}

		switch errorResponse.Error.Message {
		case ErrorInvalidEmail:
			return fmt.Errorf("invalid email")
		case ErrorInvalidLoginCredentials:
			return fmt.Errorf("invalid credentials")
		case ErrorTooManyAttempts:
			return fmt.Errorf("too many attempts, try again later")
		}
		return fmt.Errorf("failed to login: %s", errorResponse.Error.Message)
	}

	login := &LoginResponseBody{}
	if err := json.NewDecoder(resp.Body).Decode(login); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}

	holder.SignIn(User{
		ID:          login.LocalID,
		DisplayName: login.DisplayName,
	}, login.IDToken)
	return nil
}
