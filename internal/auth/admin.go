package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/tools"
)

type Credentials struct {
	Username string
	Password string
}

// AdminSession logs the system user into the auth service. The token is
// returned to the caller and never cached on the session.
type AdminSession struct {
	client  *http.Client
	authURL string
	creds   Credentials
}

func NewAdminSession(client *http.Client, authURL string, creds Credentials) *AdminSession {
	return &AdminSession{
		client:  client,
		authURL: strings.TrimRight(authURL, "/"),
		creds:   creds,
	}
}

func (s *AdminSession) Token(ctx context.Context) (string, error) {
	var resp api.AuthResponse
	err := tools.DoJSON(ctx, s.client, tools.JSONRequest{
		Service: "auth",
		Op:      "login",
		Method:  http.MethodPost,
		URL:     s.authURL + "/auth",
		Body:    api.AuthPayload{Username: s.creds.Username, Password: s.creds.Password},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", tools.ErrUnauthorized
	}
	return resp.Token, nil
}
