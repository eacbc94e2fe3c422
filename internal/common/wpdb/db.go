package wpdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

// WordPress table names without prefix
const (
	TablePosts             = "posts"
	TablePostMeta          = "postmeta"
	TableComments          = "comments"
	TableCommentMeta       = "commentmeta"
	TableOptions           = "options"
	TableTerms             = "terms"
	TableTermTaxonomy      = "term_taxonomy"
	TableTermRelationships = "term_relationships"
)

// maxInClause caps the placeholders of one IN (...) list
const maxInClause = 500

// DB is the WordPress database accessed directly over the MySQL protocol
type DB struct {
	db     *sql.DB
	name   string
	prefix string
	logger *zap.Logger
}

// Open connects with go-sql-driver/mysql and verifies the connection
func Open(ctx context.Context, cfg configtypes.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = cfg.Addr
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.DBName = cfg.Name
	dsnCfg.ParseTime = true
	dsnCfg.InterpolateParams = true
	dsnCfg.Loc = time.UTC

	sqlDB, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime.ToDuration())
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Addr, err)
	}

	logger.Debug("Database connected",
		zap.String("addr", cfg.Addr),
		zap.String("database", cfg.Name),
		zap.String("table_prefix", cfg.TablePrefix))

	return New(sqlDB, cfg.Name, cfg.TablePrefix, logger), nil
}

// New wraps an existing handle
func New(sqlDB *sql.DB, name, prefix string, logger *zap.Logger) *DB {
	return &DB{db: sqlDB, name: name, prefix: prefix, logger: logger}
}

// Table returns the quoted, prefixed table name
func (d *DB) Table(name string) string {
	return "`" + d.prefix + name + "`"
}

func (d *DB) Prefix() string {
	return d.prefix
}

// Ping measures a round trip to the server
func (d *DB) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := d.db.PingContext(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n sql.NullInt64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n.Int64, nil
}

func (d *DB) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (d *DB) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteIn runs "DELETE FROM table WHERE column IN (...)" in chunks
func (d *DB) deleteIn(ctx context.Context, table, column string, ids []int64) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += maxInClause {
		end := start + maxInClause
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", d.Table(table), column, placeholders(len(chunk)))
		n, err := d.exec(ctx, query, int64Args(chunk)...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
