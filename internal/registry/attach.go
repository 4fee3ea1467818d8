package registry

import (
	"context"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
)

// Attach attaches the database secondaryName found at secondaryLocation
// to name under alias. Engine failures are reported with the owning
// database's name.
func (r *Registry) Attach(ctx context.Context, name, secondaryLocation, secondaryName, alias string) error {
	conn, err := r.Get(name)
	if err != nil {
		return err
	}
	path, err := r.Path(secondaryName, secondaryLocation)
	if err != nil {
		return sqlerr.NewAttachDetachError(name, "attach", err.Error())
	}

	sql := "ATTACH DATABASE " + quoteLiteral(path) + " AS " + quoteIdent(alias)
	if _, err := conn.Execute(ctx, sql, nil, store.ModeNone); err != nil {
		return sqlerr.NewAttachDetachError(name, "attach", engineMessage(err))
	}
	r.logger.Info("database attached", "name", name, "alias", alias, "path", path)
	return nil
}

// Detach removes alias from name.
func (r *Registry) Detach(ctx context.Context, name, alias string) error {
	conn, err := r.Get(name)
	if err != nil {
		return err
	}
	sql := "DETACH DATABASE " + quoteIdent(alias)
	if _, err := conn.Execute(ctx, sql, nil, store.ModeNone); err != nil {
		return sqlerr.NewAttachDetachError(name, "detach", engineMessage(err))
	}
	r.logger.Info("database detached", "name", name, "alias", alias)
	return nil
}

// LoadExtension loads a native extension into name.
func (r *Registry) LoadExtension(ctx context.Context, name string, ext Extension) error {
	conn, err := r.Get(name)
	if err != nil {
		return err
	}
	return conn.Do(ctx, func(s *store.Session) error {
		return s.LoadExtension(ext.Path, ext.EntryPoint)
	})
}

func loadExtension(conn *store.Conn, ext Extension) error {
	return conn.Do(context.Background(), func(s *store.Session) error {
		return s.LoadExtension(ext.Path, ext.EntryPoint)
	})
}

// engineMessage extracts the bare diagnostic text from a bridge error.
func engineMessage(err error) string {
	if e, ok := err.(*sqlerr.Error); ok {
		return e.Message
	}
	return err.Error()
}
