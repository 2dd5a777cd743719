// Package store persists route definitions in SQLite. The tracking core only
// reads from it; writes happen through the routes API and the seed loader.
package store

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

var (
	ErrRouteNotFound = errors.New("route not found")
	ErrRouteExists   = errors.New("route already exists")
)

// Route is a stored route definition.
type Route struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	StartPosition tracking.Position `json:"startPosition"`
	EndPosition   tracking.Position `json:"endPosition"`
}

const schema = `
CREATE TABLE IF NOT EXISTS routes (
	id        TEXT PRIMARY KEY,
	title     TEXT NOT NULL,
	start_lat REAL NOT NULL,
	start_lng REAL NOT NULL,
	end_lat   REAL NOT NULL,
	end_lng   REAL NOT NULL
);
`

// Store is a fixed-size pool of SQLite connections over the routes table.
// Safe for concurrent use; individual connections are not, so every call
// takes its own connection and puts it back.
type Store struct {
	pool   *sqlitex.Pool
	logger *logging.Logger
}

type Options struct {
	// Path is the database file, created when missing.
	Path     string
	PoolSize int
	Logger   *logging.Logger
}

func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("store: path is required")
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(opts.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", opts.Path, err)
	}

	if opts.Logger != nil {
		opts.Logger.Info("route store opened", map[string]string{
			"path": opts.Path,
		})
	}
	return &Store{pool: pool, logger: opts.Logger}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// Create inserts a route. Fails with ErrRouteExists on a duplicate id.
func (s *Store) Create(ctx context.Context, route Route) error {
	if route.ID == "" {
		return errors.New("store: route id is required")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if _, err := s.get(conn, route.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrRouteExists, route.ID)
	} else if !errors.Is(err, ErrRouteNotFound) {
		return err
	}
	return s.upsert(conn, route)
}

// Upsert inserts or replaces a route; used by the seed loader.
func (s *Store) Upsert(ctx context.Context, route Route) error {
	if route.ID == "" {
		return errors.New("store: route id is required")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return s.upsert(conn, route)
}

// Get returns one route by id.
func (s *Store) Get(ctx context.Context, routeID string) (Route, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Route{}, err
	}
	defer s.pool.Put(conn)
	return s.get(conn, routeID)
}

// List returns every route ordered by id.
func (s *Store) List(ctx context.Context) ([]Route, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var routes []Route
	err = sqlitex.Execute(conn,
		`SELECT id, title, start_lat, start_lng, end_lat, end_lng FROM routes ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				routes = append(routes, routeFromRow(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return routes, nil
}

// Update replaces an existing route. Fails with ErrRouteNotFound.
func (s *Store) Update(ctx context.Context, route Route) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if _, err := s.get(conn, route.ID); err != nil {
		return err
	}
	return s.upsert(conn, route)
}

// Delete removes a route. Fails with ErrRouteNotFound for unknown ids.
func (s *Store) Delete(ctx context.Context, routeID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if _, err := s.get(conn, routeID); err != nil {
		return err
	}
	err = sqlitex.Execute(conn, `DELETE FROM routes WHERE id = :id`, &sqlitex.ExecOptions{
		Named: map[string]any{":id": routeID},
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", routeID, err)
	}
	return nil
}

// Endpoints implements tracking.RouteSource.
func (s *Store) Endpoints(ctx context.Context, routeID string) (tracking.Endpoints, error) {
	route, err := s.Get(ctx, routeID)
	if err != nil {
		return tracking.Endpoints{}, err
	}
	return tracking.Endpoints{
		Start: route.StartPosition,
		End:   route.EndPosition,
	}, nil
}

func (s *Store) upsert(conn *sqlite.Conn, route Route) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO routes (id, title, start_lat, start_lng, end_lat, end_lng)
		 VALUES (:id, :title, :start_lat, :start_lng, :end_lat, :end_lng)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			start_lat = excluded.start_lat,
			start_lng = excluded.start_lng,
			end_lat = excluded.end_lat,
			end_lng = excluded.end_lng`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":id":        route.ID,
				":title":     route.Title,
				":start_lat": route.StartPosition.Lat,
				":start_lng": route.StartPosition.Lng,
				":end_lat":   route.EndPosition.Lat,
				":end_lng":   route.EndPosition.Lng,
			},
		})
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", route.ID, err)
	}
	return nil
}

func (s *Store) get(conn *sqlite.Conn, routeID string) (Route, error) {
	var route Route
	found := false
	err := sqlitex.Execute(conn,
		`SELECT id, title, start_lat, start_lng, end_lat, end_lng FROM routes WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":id": routeID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				route = routeFromRow(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Route{}, fmt.Errorf("store: get %s: %w", routeID, err)
	}
	if !found {
		return Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, routeID)
	}
	return route, nil
}

func routeFromRow(stmt *sqlite.Stmt) Route {
	return Route{
		ID:    stmt.ColumnText(0),
		Title: stmt.ColumnText(1),
		StartPosition: tracking.Position{
			Lat: stmt.ColumnFloat(2),
			Lng: stmt.ColumnFloat(3),
		},
		EndPosition: tracking.Position{
			Lat: stmt.ColumnFloat(4),
			Lng: stmt.ColumnFloat(5),
		},
	}
}
