package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// PostGISIndex looks footprints up in a PostGIS table of EPSG:4326 geometries.
type PostGISIndex struct {
	db    *sql.DB
	query string
}

// PostGISOption configures a PostGISIndex.
type PostGISOption func(*postgisConfig)

type postgisConfig struct {
	table      string
	idColumn   string
	geomColumn string
}

// WithTable sets the footprint table, optionally schema-qualified ("schema.table").
func WithTable(t string) PostGISOption {
	return func(c *postgisConfig) {
		if t != "" {
			c.table = t
		}
	}
}

// WithIDColumn sets the column holding tile identifiers.
func WithIDColumn(col string) PostGISOption {
	return func(c *postgisConfig) {
		if col != "" {
			c.idColumn = col
		}
	}
}

// WithGeomColumn sets the footprint geometry column.
func WithGeomColumn(col string) PostGISOption {
	return func(c *postgisConfig) {
		if col != "" {
			c.geomColumn = col
		}
	}
}

// OpenPostgres opens and verifies a pool through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	return db, nil
}

// NewPostGISIndex creates an index over db. Defaults: table "tiles", columns "id" and "geom".
func NewPostGISIndex(db *sql.DB, opts ...PostGISOption) *PostGISIndex {
	c := postgisConfig{table: "tiles", idColumn: "id", geomColumn: "geom"}
	for _, opt := range opts {
		opt(&c)
	}
	return &PostGISIndex{db: db, query: buildQuery(c)}
}

func buildQuery(c postgisConfig) string {
	table := pgx.Identifier(splitQualified(c.table)).Sanitize()
	id := pgx.Identifier{c.idColumn}.Sanitize()
	geom := pgx.Identifier{c.geomColumn}.Sanitize()
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE ST_Covers(%s, ST_SetSRID(ST_MakePoint($1, $2), 4326))",
		id, table, geom,
	)
}

func splitQualified(name string) []string {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return []string{schema, table}
	}
	return []string{name}
}

// LookupPoint implements the tile index contract.
func (p *PostGISIndex) LookupPoint(ctx context.Context, lat, lon float64) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, p.query, lon, lat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQuery, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return ids, nil
}

// Close releases the pool.
func (p *PostGISIndex) Close() error {
	return p.db.Close()
}
