// ABOUTME: Directory interface and record types for users, bots and code artifacts.
// ABOUTME: Defines ErrNotFound and the artifact content codec.

package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// User is an account that owns bots.
type User struct {
	InternalID string
	ExternalID string
}

// Worker is a bot record owned by a user.
type Worker struct {
	InternalID string
	ExternalID string
	UserID     string
	Name       string
	RunCommand string
	Deployment string

	// CredentialHash is an optional bcrypt hash of the bot's login secret.
	CredentialHash string
}

// Command splits RunCommand into the executable and its arguments.
func (w *Worker) Command() (string, []string) {
	fields := strings.Fields(w.RunCommand)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// Artifact is a single deployable file.
type Artifact struct {
	ID        string
	WorkerID  string
	Filename  string
	Directory string
	Contents  []byte
}

// Directory is the read interface the manager uses.
type Directory interface {
	FindUserByExternalID(ctx context.Context, externalID string) (*User, error)
	FindWorkerForUser(ctx context.Context, internalUserID, workerRef string) (*Worker, error)
	ListCodeArtifacts(ctx context.Context, internalWorkerID string) ([]*Artifact, error)
	GetCodeArtifact(ctx context.Context, id string) (*Artifact, error)
	Ping(ctx context.Context) error
	Close() error
}

// Codec transcodes artifact contents before they are sent to a bot.
type Codec interface {
	Encode(contents []byte) string
}

// Base64Codec encodes contents with standard base64.
type Base64Codec struct{}

// Encode implements Codec.
func (Base64Codec) Encode(contents []byte) string {
	return base64.StdEncoding.EncodeToString(contents)
}
