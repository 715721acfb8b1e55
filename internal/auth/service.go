package auth

import (
	"context"
	"errors"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/tools"
	log "github.com/sirupsen/logrus"
)

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*api.User, error)
}

type Authenticator struct {
	users UserStore
	jwt   *JWTManager
}

func NewAuthenticator(users UserStore, jwt *JWTManager) *Authenticator {
	return &Authenticator{users: users, jwt: jwt}
}

// Login checks the credentials and issues a token. Unknown users and wrong
// passwords both return tools.ErrUnauthorized.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*api.AuthResponse, error) {
	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, tools.ErrNotFound) {
		return nil, tools.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if !VerifyPassword(user.PasswordHash, password) {
		log.WithField("username", username).Info("Rejected login")
		return nil, tools.ErrUnauthorized
	}

	token, err := a.jwt.GenerateToken(user)
	if err != nil {
		return nil, err
	}

	resp := &api.AuthResponse{Token: token, User: *user}
	resp.User.PasswordHash = ""
	return resp, nil
}
