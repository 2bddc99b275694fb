package requests

import (
	"context"

	"github.com/google/uuid"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/database"
	"github.com/wizzomafizzo/taprelay/pkg/platforms"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

// Scanner controls scan sessions on behalf of API clients.
type Scanner interface {
	Start() error
	Stop() error
	WriteTag(ctx context.Context, id tokens.Identifier) (*tokens.Token, error)
}

type RequestEnv struct {
	Context  context.Context
	Platform platforms.Platform
	Config   *config.UserConfig
	State    *state.State
	Database *database.Database
	Scanner  Scanner
	Id       uuid.UUID
	Params   []byte
}
