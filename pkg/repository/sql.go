package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"

	defaultTable = "customer"
)

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLConfig holds the configuration for a SQLRepository.
type SQLConfig struct {
	// Driver is one of sqlite, pgx (alias postgres) or mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// SQLRepository is a CustomerRepository on database/sql. The (firstname,
// lastname) pair carries a unique index, so a racing duplicate insert is
// rejected by the database. Timestamps are stored as unix milliseconds.
type SQLRepository struct {
	db         *sql.DB
	table      string
	driverName string
	clock      clockwork.Clock
	logger     zerolog.Logger

	selectAllStmt *sql.Stmt
	insertStmt    *sql.Stmt
	updateStmt    *sql.Stmt
	deleteStmt    *sql.Stmt
}

// NewSQLRepository opens the database, creates the customer table if needed and
// prepares its statements.
func NewSQLRepository(ctx context.Context, cfg SQLConfig, clock clockwork.Clock, logger zerolog.Logger) (*SQLRepository, error) {
	driverName := cfg.Driver
	if driverName == "postgres" {
		driverName = DriverPostgres
	}
	switch driverName {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return nil, errors.Newf(errors.CodeInvalidConfig, "unsupported sql driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "sql repository requires a dsn")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if err := validateSQLTableName(table); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to open database")
	}
	if driverName == DriverSQLite {
		// A single connection keeps sqlite writers from tripping over each other.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to connect to database")
	}

	r := &SQLRepository{
		db:         db,
		table:      table,
		driverName: driverName,
		clock:      clock,
		logger:     logger.With().Str("component", "SQLRepository").Str("driver", driverName).Logger(),
	}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to create customer table")
	}
	if err := r.prepareStatements(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to prepare statements")
	}

	r.logger.Info().Str("table", table).Msg("SQLRepository initialized.")
	return r, nil
}

// GetCustomers returns every customer ordered by ID.
func (r *SQLRepository) GetCustomers(ctx context.Context) ([]types.Customer, error) {
	rows, err := r.selectAllStmt.QueryContext(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error retrieving customer data.")
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to query customers")
	}
	defer rows.Close()

	customers := make([]types.Customer, 0)
	for rows.Next() {
		var c types.Customer
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Address, &created, &updated); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "failed to scan customer row")
		}
		c.Created = fromMillis(created)
		c.Updated = fromMillis(updated)
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to read customer rows")
	}
	return customers, nil
}

// AddCustomer inserts c and returns it with its assigned ID.
func (r *SQLRepository) AddCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	now := r.clock.Now()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Created = fromMillis(c.Created.UnixMilli())
	c.Updated = fromMillis(now.UnixMilli())

	args := []any{c.FirstName, c.LastName, c.Address, c.Created.UnixMilli(), c.Updated.UnixMilli()}
	var err error
	if r.driverName == DriverPostgres {
		err = r.insertStmt.QueryRowContext(ctx, args...).Scan(&c.ID)
	} else {
		var res sql.Result
		res, err = r.insertStmt.ExecContext(ctx, args...)
		if err == nil {
			c.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		if isDuplicateErr(err) {
			return types.Customer{}, duplicateNameError(err, c)
		}
		r.logger.Error().Err(err).Msg("Error saving customer to database.")
		return types.Customer{}, errors.Wrap(err, errors.CodeDatabase, "failed to insert customer")
	}

	r.logger.Debug().Int64("customer_id", c.ID).Msg("Customer inserted.")
	return c, nil
}

// UpdateCustomer rewrites c's mutable fields, keeping the stored Created time.
func (r *SQLRepository) UpdateCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Customer{}, errors.Wrap(err, errors.CodeDatabase, "failed to begin transaction")
	}
	defer tx.Rollback()

	var created int64
	err = tx.QueryRowContext(ctx, r.selectCreatedSQL(), c.ID).Scan(&created)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.Customer{}, notFoundError(c.ID)
	}
	if err != nil {
		return types.Customer{}, errors.Wrap(err, errors.CodeDatabase, "failed to read customer")
	}

	c.Created = fromMillis(created)
	c.Updated = fromMillis(r.clock.Now().UnixMilli())
	updateStmt := tx.StmtContext(ctx, r.updateStmt)
	defer updateStmt.Close()
	if _, err := updateStmt.ExecContext(ctx, c.FirstName, c.LastName, c.Address, c.Updated.UnixMilli(), c.ID); err != nil {
		if isDuplicateErr(err) {
			return types.Customer{}, duplicateNameError(err, c)
		}
		r.logger.Error().Err(err).Int64("customer_id", c.ID).Msg("Error updating customer in database.")
		return types.Customer{}, errors.Wrap(err, errors.CodeDatabase, "failed to update customer")
	}
	if err := tx.Commit(); err != nil {
		return types.Customer{}, errors.Wrap(err, errors.CodeDatabase, "failed to commit customer update")
	}
	return c, nil
}

// DeleteCustomer removes c by ID.
func (r *SQLRepository) DeleteCustomer(ctx context.Context, c types.Customer) error {
	res, err := r.deleteStmt.ExecContext(ctx, c.ID)
	if err != nil {
		r.logger.Error().Err(err).Int64("customer_id", c.ID).Msg("Error deleting customer from database.")
		return errors.Wrap(err, errors.CodeDatabase, "failed to delete customer")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to delete customer")
	}
	if rows == 0 {
		return notFoundError(c.ID)
	}
	return nil
}

// Close closes the prepared statements and the database handle.
func (r *SQLRepository) Close() error {
	for _, stmt := range []*sql.Stmt{r.selectAllStmt, r.insertStmt, r.updateStmt, r.deleteStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return r.db.Close()
}

func (r *SQLRepository) ensureSchema(ctx context.Context) error {
	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_name_uq ON %s (firstname, lastname)", indexPrefix(r.table), r.table)
	var stmts []string
	switch r.driverName {
	case DriverPostgres:
		stmts = []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			firstname TEXT NOT NULL,
			lastname TEXT NOT NULL,
			address TEXT NOT NULL,
			created BIGINT NOT NULL,
			updated BIGINT NOT NULL
		)`, r.table), index}
	case DriverMySQL:
		// Binary collation keeps the unique index case-sensitive, like the cache check.
		stmts = []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			firstname VARCHAR(255) COLLATE utf8mb4_bin NOT NULL,
			lastname VARCHAR(255) COLLATE utf8mb4_bin NOT NULL,
			address VARCHAR(1024) NOT NULL,
			created BIGINT NOT NULL,
			updated BIGINT NOT NULL,
			UNIQUE KEY %s_name_uq (firstname, lastname)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, r.table, indexPrefix(r.table))}
	default: // sqlite
		stmts = []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			firstname TEXT NOT NULL,
			lastname TEXT NOT NULL,
			address TEXT NOT NULL,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL
		)`, r.table), index}
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) prepareStatements(ctx context.Context) error {
	var err error
	if r.selectAllStmt, err = r.db.PrepareContext(ctx, r.selectAllSQL()); err != nil {
		return err
	}
	if r.insertStmt, err = r.db.PrepareContext(ctx, r.insertSQL()); err != nil {
		return err
	}
	if r.updateStmt, err = r.db.PrepareContext(ctx, r.updateSQL()); err != nil {
		return err
	}
	if r.deleteStmt, err = r.db.PrepareContext(ctx, r.deleteSQL()); err != nil {
		return err
	}
	return nil
}

func (r *SQLRepository) selectAllSQL() string {
	return fmt.Sprintf("SELECT id, firstname, lastname, address, created, updated FROM %s ORDER BY id", r.table)
}

func (r *SQLRepository) selectCreatedSQL() string {
	return fmt.Sprintf("SELECT created FROM %s WHERE id = %s", r.table, r.ph(1))
}

func (r *SQLRepository) insertSQL() string {
	q := fmt.Sprintf("INSERT INTO %s (firstname, lastname, address, created, updated) VALUES (%s, %s, %s, %s, %s)",
		r.table, r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5))
	if r.driverName == DriverPostgres {
		q += " RETURNING id"
	}
	return q
}

func (r *SQLRepository) updateSQL() string {
	return fmt.Sprintf("UPDATE %s SET firstname = %s, lastname = %s, address = %s, updated = %s WHERE id = %s",
		r.table, r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5))
}

func (r *SQLRepository) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = %s", r.table, r.ph(1))
}

// ph returns the i-th positional placeholder for the driver.
func (r *SQLRepository) ph(i int) string {
	if r.driverName == DriverPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func isDuplicateErr(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.CodeInvalidConfig, "sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return errors.Newf(errors.CodeInvalidConfig, "invalid sql table name %q", name)
		}
	}
	return nil
}

func indexPrefix(table string) string {
	return strings.ReplaceAll(table, ".", "_")
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ CustomerRepository = (*SQLRepository)(nil)
