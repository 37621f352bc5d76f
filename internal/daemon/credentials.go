package daemon

import (
	"context"
	"errors"

	"github.com/quantcore/trademonitor/internal/broker"
	"github.com/quantcore/trademonitor/internal/session"
	"github.com/quantcore/trademonitor/internal/store"
)

// credentialStore adapts store.Store's plain-field credential rows to the
// session.CredentialStore interface. Token encryption at rest (spec §6's
// TOKEN_ENCRYPT_KEY) is left to the OAuth/session layer this core treats as
// an external collaborator (spec §1's explicit non-goal); this store is a
// thin persistence shim for whatever already-obtained tokens that layer
// hands us.
type credentialStore struct {
	store *store.Store
}

func (c *credentialStore) Load(ctx context.Context, userID int64) (session.Credentials, error) {
	access, refresh, expiresAt, err := c.store.LoadCredentials(ctx, userID)
	if err != nil {
		return session.Credentials{}, err
	}
	return session.Credentials{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}

func (c *credentialStore) Save(ctx context.Context, userID int64, creds session.Credentials) error {
	return c.store.SaveCredentials(ctx, userID, creds.AccessToken, creds.RefreshToken, creds.ExpiresAt)
}

// credentialRefresher exchanges a refresh token for a new access token via
// the brokerage REST client (spec §4.5, §6).
type credentialRefresher struct {
	broker *broker.Client
}

func (r *credentialRefresher) Refresh(ctx context.Context, creds session.Credentials) (session.Credentials, error) {
	if creds.RefreshToken == "" {
		return session.Credentials{}, errors.New("no refresh token on file")
	}
	pair, err := r.broker.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		return session.Credentials{}, err
	}
	return session.Credentials{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}
