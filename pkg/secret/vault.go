package secret

import (
	"context"

	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/pkg/errors"
)

type CredentialStore interface {
	GetCredential(ctx context.Context, id string) (*workflow.Credential, error)
}

// Vault looks up credentials owned by a user and decrypts them.
type Vault struct {
	Store CredentialStore
	Box   *Box
}

// Lookup returns the sealed value of a credential. A credential which
// doesn't exist or belongs to another user is a NotFoundError.
func (v *Vault) Lookup(ctx context.Context, id, userID string) (string, error) {
	cred, err := v.Store.GetCredential(ctx, id)
	if err != nil {
		return "", err
	}
	if cred.UserID != userID {
		return "", noderr.NotFound("credential", id)
	}
	return cred.Value, nil
}

func (v *Vault) Open(sealed string) (string, error) {
	if v.Box == nil {
		return "", errors.New("no secret master key is configured")
	}
	return v.Box.Open(sealed)
}
