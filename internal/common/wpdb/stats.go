package wpdb

import (
	"context"
	"fmt"
	"math"

	"github.com/adminx/perfgate/pkg/types"
)

// Counts gathers the row counts shown next to the cleanup action
func (d *DB) Counts(ctx context.Context) (types.DatabaseCounts, error) {
	var c types.DatabaseCounts

	queries := []struct {
		dst   *int64
		query string
		args  []interface{}
	}{
		{&c.Posts, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE post_status = 'publish'", d.Table(TablePosts)), nil},
		{&c.Revisions, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE post_type = 'revision'", d.Table(TablePosts)), nil},
		{&c.TrashPosts, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE post_status = 'trash'", d.Table(TablePosts)), nil},
		{&c.SpamComments, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE comment_approved = 'spam'", d.Table(TableComments)), nil},
		{&c.TrashComments, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE comment_approved = 'trash'", d.Table(TableComments)), nil},
		{&c.Transients, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE option_name LIKE ?", d.Table(TableOptions)),
			[]interface{}{transientPrefix + "%"}},
		{&c.OrphanedPostMeta, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE post_id NOT IN (SELECT ID FROM %s)",
			d.Table(TablePostMeta), d.Table(TablePosts)), nil},
		{&c.OrphanedCommentMeta, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE comment_id NOT IN (SELECT comment_ID FROM %s)",
			d.Table(TableCommentMeta), d.Table(TableComments)), nil},
		{&c.UnusedTags, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE taxonomy = 'post_tag' AND `count` = 0",
			d.Table(TableTermTaxonomy)), nil},
	}

	for _, q := range queries {
		n, err := d.count(ctx, q.query, q.args...)
		if err != nil {
			return c, fmt.Errorf("database counts: %w", err)
		}
		*q.dst = n
	}
	return c, nil
}

// TableSizes reports data plus index size per table, largest first
func (d *DB) TableSizes(ctx context.Context) ([]types.TableSize, float64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT TABLE_NAME, COALESCE(DATA_LENGTH, 0) + COALESCE(INDEX_LENGTH, 0) AS size_bytes
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ?
ORDER BY size_bytes DESC`, d.name)
	if err != nil {
		return nil, 0, fmt.Errorf("query table sizes: %w", err)
	}
	defer rows.Close()

	var sizes []types.TableSize
	var totalBytes int64
	for rows.Next() {
		var name string
		var bytes int64
		if err := rows.Scan(&name, &bytes); err != nil {
			return nil, 0, fmt.Errorf("scan table size: %w", err)
		}
		totalBytes += bytes
		sizes = append(sizes, types.TableSize{Table: name, SizeMB: toMB(bytes)})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("read table sizes: %w", err)
	}
	return sizes, toMB(totalBytes), nil
}

func toMB(bytes int64) float64 {
	return math.Round(float64(bytes)/1024/1024*100) / 100
}
