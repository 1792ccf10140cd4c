package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/lib/pq"
)

// PostgresDB is the lib/pq backend. Tables come from the migrations directory.
type PostgresDB struct {
	sqlDB
	dsn string
}

var _ Store = (*PostgresDB)(nil)

func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{sqlDB: sqlDB{db: d, d: postgresDialect{}}, dsn: dsn}
	if err := p.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init(ctx context.Context) error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.PingContext(ctx)
}

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) list(v *[]string) any {
	if *v == nil {
		*v = []string{}
	}
	return (*pq.StringArray)(v)
}

func (postgresDialect) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
