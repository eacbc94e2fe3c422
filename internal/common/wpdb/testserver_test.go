package wpdb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"
	"time"

	sqle "github.com/dolthub/go-mysql-server"
	"github.com/dolthub/go-mysql-server/memory"
	"github.com/dolthub/go-mysql-server/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/pkg/types"
)

const testDBName = "wordpress"

var schema = []string{
	"CREATE TABLE wp_posts (ID BIGINT UNSIGNED NOT NULL PRIMARY KEY, post_parent BIGINT UNSIGNED NOT NULL DEFAULT 0, post_type VARCHAR(20) NOT NULL DEFAULT 'post', post_status VARCHAR(20) NOT NULL DEFAULT 'publish', post_mime_type VARCHAR(100) NOT NULL DEFAULT '', post_date DATETIME NOT NULL, post_modified DATETIME NOT NULL)",
	"CREATE TABLE wp_postmeta (meta_id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY, post_id BIGINT UNSIGNED NOT NULL DEFAULT 0, meta_key VARCHAR(255), meta_value LONGTEXT)",
	"CREATE TABLE wp_comments (comment_ID BIGINT UNSIGNED NOT NULL PRIMARY KEY, comment_post_ID BIGINT UNSIGNED NOT NULL DEFAULT 0, comment_approved VARCHAR(20) NOT NULL DEFAULT '1')",
	"CREATE TABLE wp_commentmeta (meta_id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY, comment_id BIGINT UNSIGNED NOT NULL DEFAULT 0, meta_key VARCHAR(255), meta_value LONGTEXT)",
	"CREATE TABLE wp_options (option_id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY, option_name VARCHAR(191) NOT NULL, option_value LONGTEXT NOT NULL, autoload VARCHAR(20) NOT NULL DEFAULT 'yes')",
	"CREATE TABLE wp_terms (term_id BIGINT UNSIGNED NOT NULL PRIMARY KEY, name VARCHAR(200) NOT NULL DEFAULT '', slug VARCHAR(200) NOT NULL DEFAULT '')",
	"CREATE TABLE wp_term_taxonomy (term_taxonomy_id BIGINT UNSIGNED NOT NULL PRIMARY KEY, term_id BIGINT UNSIGNED NOT NULL DEFAULT 0, taxonomy VARCHAR(32) NOT NULL DEFAULT '', `count` BIGINT NOT NULL DEFAULT 0)",
	"CREATE TABLE wp_term_relationships (object_id BIGINT UNSIGNED NOT NULL DEFAULT 0, term_taxonomy_id BIGINT UNSIGNED NOT NULL DEFAULT 0, PRIMARY KEY (object_id, term_taxonomy_id))",
}

// startTestServer runs an in-process MySQL server with the WordPress tables
// and returns a DB connected through go-sql-driver/mysql.
func startTestServer(t *testing.T) *DB {
	t.Helper()

	memDB := memory.NewDatabase(testDBName)
	memDB.BaseDatabase.EnablePrimaryKeyIndexes()
	pro := memory.NewDBProvider(memDB)
	engine := sqle.NewDefault(pro)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv, err := server.NewServer(server.Config{Protocol: "tcp", Address: addr}, engine, memory.NewSessionBuilder(pro), nil)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { _ = srv.Close() })

	cfg := configtypes.DatabaseConfig{
		Addr:        addr,
		User:        "root",
		Name:        testDBName,
		TablePrefix: "wp_",
	}

	var db *DB
	require.Eventually(t, func() bool {
		db, err = Open(context.Background(), cfg, zap.NewNop())
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range schema {
		_, err := db.db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

func mustExec(t *testing.T, db *DB, query string, args ...interface{}) {
	t.Helper()
	_, err := db.db.Exec(query, args...)
	require.NoError(t, err, query)
}

func insertPost(t *testing.T, db *DB, id, parent int64, postType, status string, date time.Time) {
	t.Helper()
	ts := date.UTC().Format("2006-01-02 15:04:05")
	mustExec(t, db, "INSERT INTO wp_posts (ID, post_parent, post_type, post_status, post_date, post_modified) VALUES (?, ?, ?, ?, ?, ?)",
		id, parent, postType, status, ts, ts)
}

func insertAttachment(t *testing.T, db *DB, id int64, mime, file string) {
	t.Helper()
	ts := time.Now().UTC().Format("2006-01-02 15:04:05")
	mustExec(t, db, "INSERT INTO wp_posts (ID, post_type, post_status, post_mime_type, post_date, post_modified) VALUES (?, 'attachment', 'inherit', ?, ?, ?)",
		id, mime, ts, ts)
	mustExec(t, db, "INSERT INTO wp_postmeta (post_id, meta_key, meta_value) VALUES (?, ?, ?)", id, types.MetaAttachedFile, file)
}

func rowCount(t *testing.T, db *DB, query string, args ...interface{}) int64 {
	t.Helper()
	var n sql.NullInt64
	require.NoError(t, db.db.QueryRow(query, args...).Scan(&n), query)
	return n.Int64
}

func idList(t *testing.T, db *DB, query string) []int64 {
	t.Helper()
	ids, err := db.queryIDs(context.Background(), query)
	require.NoError(t, err, query)
	return ids
}

func ts(d time.Duration) string {
	return fmt.Sprint(time.Now().Add(d).Unix())
}
