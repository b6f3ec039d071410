package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"plexflow/internal/credential"
	"plexflow/internal/engine"
	"plexflow/internal/plugin"
	"plexflow/internal/plugin/builtin"
)

func defaultRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	r.Register(builtin.NewPipelexConnector())
	r.Register(builtin.NewHTTPConnector())
	r.Register(builtin.NewLogConnector())

	external, err := plugin.LoadExternalPlugins(pluginsDir, log)
	if err != nil {
		log.Warn("loading external plugins", zap.String("dir", pluginsDir), zap.Error(err))
	}
	for _, p := range external {
		if err := r.Register(p); err != nil {
			log.Warn("skipping external plugin", zap.String("connector", p.Name()), zap.Error(err))
		}
	}
	return r
}

// credentialStore opens the store selected by configuration.
func credentialStore() (credential.Store, error) {
	switch cfg.Credentials.Store {
	case "keyring":
		return credential.KeyringStore{Service: cfg.Credentials.Service}, nil
	default:
		if cfg.Credentials.File == "" {
			return credential.MemoryStore{}, nil
		}
		store, err := credential.LoadFileStore(cfg.Credentials.File)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading credentials: %w", err)
		}
		if store == nil {
			store = credential.MemoryStore{}
		}
		return store, nil
	}
}

func newEngine(registry *plugin.Registry) (*engine.Engine, error) {
	store, err := credentialStore()
	if err != nil {
		return nil, err
	}
	eng := engine.NewEngine(registry)
	eng.Store = store
	eng.Logger = log
	return eng, nil
}
