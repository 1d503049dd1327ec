package gdrive

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/Ning0612/sftparchive/internal/domain"
)

const (
	// TokenFileName is the token file inside the user config directory
	TokenFileName = "gdrive-token.json"
	// AuthTimeout bounds how long Authenticate waits for the browser
	AuthTimeout = 5 * time.Minute

	callbackPath = "/callback"
)

// Authenticator obtains and stores the OAuth2 token of a gdrive source.
// Only read access is requested; mirroring never writes to Drive.
type Authenticator struct {
	config    *oauth2.Config
	tokenPath string
}

// NewAuthenticator creates an authenticator; an empty tokenPath selects
// TokenFileName in the user config directory
func NewAuthenticator(clientID, clientSecret, tokenPath string) *Authenticator {
	if tokenPath == "" {
		tokenPath = TokenFileName
		if dir, err := os.UserConfigDir(); err == nil {
			tokenPath = filepath.Join(dir, "sftparchive", TokenFileName)
		}
	}

	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{drive.DriveReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		tokenPath: tokenPath,
	}
}

// TokenPath returns where the token is stored
func (a *Authenticator) TokenPath() string {
	return a.tokenPath
}

// TokenSource returns a source backed by the stored token. Refreshed tokens
// are written back so the next run starts from them.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := a.load()
	if err != nil {
		return nil, fmt.Errorf("%w: no usable token at %s, run 'sftparchive auth gdrive': %w",
			domain.ErrAuthFailed, a.tokenPath, err)
	}
	if !token.Valid() && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token at %s expired, run 'sftparchive auth gdrive'",
			domain.ErrAuthFailed, a.tokenPath)
	}

	return &savingSource{
		base: a.config.TokenSource(ctx, token),
		auth: a,
		last: token.AccessToken,
	}, nil
}

// Authenticate runs the browser authorization code flow with PKCE against a
// loopback redirect and stores the resulting token. Instructions go to out.
func (a *Authenticator) Authenticate(ctx context.Context, out io.Writer) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, AuthTimeout)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}

	cfg := *a.config
	cfg.RedirectURL = "http://" + ln.Addr().String() + callbackPath

	state, err := randomState()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	codes := make(chan string, 1)
	failures := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusForbidden)
			select {
			case failures <- fmt.Errorf("%w: %s", domain.ErrAuthFailed, q.Get("error")):
			default:
			}
			return
		}
		fmt.Fprintln(w, "sftparchive is authorized. You can close this window.")
		select {
		case codes <- q.Get("code"):
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	defer srv.Close()

	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oauth2.S256ChallengeOption(verifier))
	fmt.Fprintf(out, "Open this URL in a browser on this machine to authorize read access to Google Drive:\n\n  %s\n\n", url)
	fmt.Fprintf(out, "Waiting for the redirect to %s ...\n", cfg.RedirectURL)

	var code string
	select {
	case code = <-codes:
	case err := <-failures:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization not completed: %w", ctx.Err())
	}

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange code for token: %w", domain.ErrAuthFailed, err)
	}
	if err := a.save(token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return token, nil
}

func (a *Authenticator) load() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token file: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, errors.New("token file holds no token")
	}
	return &token, nil
}

// save writes the token with owner-only permissions through a temp file
func (a *Authenticator) save(token *oauth2.Token) error {
	dir := filepath.Dir(a.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".gdrive-token-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.tokenPath)
}

// savingSource persists every token the base source refreshes
type savingSource struct {
	base oauth2.TokenSource
	auth *Authenticator

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		// A failed write only costs a refresh on the next run
		_ = s.auth.save(token)
		s.last = token.AccessToken
	}
	return token, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
