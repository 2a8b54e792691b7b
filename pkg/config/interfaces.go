package config

import "context"

//go:generate mockgen -destination=mock_config.go -package=config github.com/pulseboard/pulseboard/pkg/config Loader

// Loader defines how configuration is read into a destination struct.
type Loader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by config structs that can check their own
// invariants after loading.
type Validator interface {
	Validate() error
}
