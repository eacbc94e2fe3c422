package wpdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	transientPrefix        = "_transient_"
	transientTimeoutPrefix = "_transient_timeout_"

	// revisionOffsetLimit is the row count paired with an OFFSET, MySQL has no OFFSET-only form
	revisionOffsetLimit = 999999
)

// DeleteOldRevisions keeps the newest keep revisions of every parent and
// deletes the rest together with their meta. Returns revisions deleted.
func (d *DB) DeleteOldRevisions(ctx context.Context, keep int) (int64, error) {
	parents, err := d.queryIDs(ctx, fmt.Sprintf(
		"SELECT post_parent FROM %s WHERE post_type = 'revision' GROUP BY post_parent HAVING COUNT(*) > ?",
		d.Table(TablePosts)), keep)
	if err != nil {
		return 0, fmt.Errorf("find posts with revisions: %w", err)
	}

	var doomed []int64
	for _, parent := range parents {
		ids, err := d.queryIDs(ctx, fmt.Sprintf(
			"SELECT ID FROM %s WHERE post_parent = ? AND post_type = 'revision' ORDER BY post_date DESC, ID DESC LIMIT ?, ?",
			d.Table(TablePosts)), parent, keep, revisionOffsetLimit)
		if err != nil {
			return 0, fmt.Errorf("list revisions of post %d: %w", parent, err)
		}
		doomed = append(doomed, ids...)
	}

	if len(doomed) == 0 {
		return 0, nil
	}
	if _, err := d.deleteIn(ctx, TablePostMeta, "post_id", doomed); err != nil {
		return 0, fmt.Errorf("delete revision meta: %w", err)
	}
	n, err := d.deleteIn(ctx, TablePosts, "ID", doomed)
	if err != nil {
		return n, fmt.Errorf("delete revisions: %w", err)
	}
	return n, nil
}

// DeleteSpamAndTrashComments removes spam and trashed comments and their meta
func (d *DB) DeleteSpamAndTrashComments(ctx context.Context) (int64, error) {
	if _, err := d.exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE comment_id IN (SELECT comment_ID FROM %s WHERE comment_approved IN ('spam', 'trash'))",
		d.Table(TableCommentMeta), d.Table(TableComments))); err != nil {
		return 0, fmt.Errorf("delete spam comment meta: %w", err)
	}

	n, err := d.exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE comment_approved IN ('spam', 'trash')", d.Table(TableComments)))
	if err != nil {
		return 0, fmt.Errorf("delete spam comments: %w", err)
	}
	return n, nil
}

// DeleteTrashPosts permanently deletes trashed posts last modified before
// cutoff, along with their meta, term relationships, comments and revisions.
func (d *DB) DeleteTrashPosts(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := d.queryIDs(ctx, fmt.Sprintf(
		"SELECT ID FROM %s WHERE post_status = 'trash' AND post_modified < ?", d.Table(TablePosts)),
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("find trash posts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var total int64
	for start := 0; start < len(ids); start += maxInClause {
		end := start + maxInClause
		if end > len(ids) {
			end = len(ids)
		}
		n, err := d.deletePosts(ctx, ids[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *DB) deletePosts(ctx context.Context, ids []int64) (int64, error) {
	in := placeholders(len(ids))
	args := int64Args(ids)

	revisions, err := d.queryIDs(ctx, fmt.Sprintf(
		"SELECT ID FROM %s WHERE post_type = 'revision' AND post_parent IN (%s)", d.Table(TablePosts), in), args...)
	if err != nil {
		return 0, fmt.Errorf("find revisions of trash posts: %w", err)
	}
	all := append(append([]int64{}, ids...), revisions...)

	steps := []struct {
		what  string
		query string
		args  []interface{}
	}{
		{"comment meta", fmt.Sprintf("DELETE FROM %s WHERE comment_id IN (SELECT comment_ID FROM %s WHERE comment_post_ID IN (%s))",
			d.Table(TableCommentMeta), d.Table(TableComments), in), args},
		{"comments", fmt.Sprintf("DELETE FROM %s WHERE comment_post_ID IN (%s)", d.Table(TableComments), in), args},
		{"term relationships", fmt.Sprintf("DELETE FROM %s WHERE object_id IN (%s)", d.Table(TableTermRelationships), in), args},
	}
	for _, step := range steps {
		if _, err := d.exec(ctx, step.query, step.args...); err != nil {
			return 0, fmt.Errorf("delete trash post %s: %w", step.what, err)
		}
	}

	if _, err := d.deleteIn(ctx, TablePostMeta, "post_id", all); err != nil {
		return 0, fmt.Errorf("delete trash post meta: %w", err)
	}
	if len(revisions) > 0 {
		if _, err := d.deleteIn(ctx, TablePosts, "ID", revisions); err != nil {
			return 0, fmt.Errorf("delete trash post revisions: %w", err)
		}
	}
	n, err := d.deleteIn(ctx, TablePosts, "ID", ids)
	if err != nil {
		return n, fmt.Errorf("delete trash posts: %w", err)
	}
	return n, nil
}

// DeleteExpiredTransients removes the value and timeout rows of every
// transient whose timeout is before now. Returns rows deleted.
func (d *DB) DeleteExpiredTransients(ctx context.Context, now time.Time) (int64, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT option_name, option_value FROM %s WHERE option_name LIKE ?", d.Table(TableOptions)),
		transientTimeoutPrefix+"%")
	if err != nil {
		return 0, fmt.Errorf("find transient timeouts: %w", err)
	}

	var names []string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan transient timeout: %w", err)
		}
		// LIKE treats _ as a wildcard
		if !strings.HasPrefix(name, transientTimeoutPrefix) {
			continue
		}
		expires, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || expires >= now.Unix() {
			continue
		}
		names = append(names, name, transientPrefix+strings.TrimPrefix(name, transientTimeoutPrefix))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read transient timeouts: %w", err)
	}

	var total int64
	for start := 0; start < len(names); start += maxInClause {
		end := start + maxInClause
		if end > len(names) {
			end = len(names)
		}
		chunk := names[start:end]
		n, err := d.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE option_name IN (%s)",
			d.Table(TableOptions), placeholders(len(chunk))), stringArgs(chunk)...)
		if err != nil {
			return total, fmt.Errorf("delete expired transients: %w", err)
		}
		total += n
	}
	return total, nil
}

// DeleteOrphanedPostMeta removes meta rows whose post no longer exists
func (d *DB) DeleteOrphanedPostMeta(ctx context.Context) (int64, error) {
	n, err := d.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE post_id NOT IN (SELECT ID FROM %s)",
		d.Table(TablePostMeta), d.Table(TablePosts)))
	if err != nil {
		return 0, fmt.Errorf("delete orphaned postmeta: %w", err)
	}
	return n, nil
}

// DeleteOrphanedCommentMeta removes meta rows whose comment no longer exists
func (d *DB) DeleteOrphanedCommentMeta(ctx context.Context) (int64, error) {
	n, err := d.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE comment_id NOT IN (SELECT comment_ID FROM %s)",
		d.Table(TableCommentMeta), d.Table(TableComments)))
	if err != nil {
		return 0, fmt.Errorf("delete orphaned commentmeta: %w", err)
	}
	return n, nil
}

// DeleteOrphanedTermRelationships removes relationships pointing at missing posts
func (d *DB) DeleteOrphanedTermRelationships(ctx context.Context) (int64, error) {
	n, err := d.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE object_id NOT IN (SELECT ID FROM %s)",
		d.Table(TableTermRelationships), d.Table(TablePosts)))
	if err != nil {
		return 0, fmt.Errorf("delete orphaned term relationships: %w", err)
	}
	return n, nil
}

// DeleteUnusedTags removes post_tag taxonomy rows with a zero count and their
// terms when no other taxonomy still uses them. Returns tags deleted.
func (d *DB) DeleteUnusedTags(ctx context.Context) (int64, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT term_taxonomy_id, term_id FROM %s WHERE taxonomy = 'post_tag' AND `count` = 0", d.Table(TableTermTaxonomy)))
	if err != nil {
		return 0, fmt.Errorf("find unused tags: %w", err)
	}
	var taxIDs, termIDs []int64
	for rows.Next() {
		var taxID, termID int64
		if err := rows.Scan(&taxID, &termID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan unused tag: %w", err)
		}
		taxIDs = append(taxIDs, taxID)
		termIDs = append(termIDs, termID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read unused tags: %w", err)
	}
	if len(taxIDs) == 0 {
		return 0, nil
	}

	n, err := d.deleteIn(ctx, TableTermTaxonomy, "term_taxonomy_id", taxIDs)
	if err != nil {
		return n, fmt.Errorf("delete unused tag taxonomy: %w", err)
	}

	for start := 0; start < len(termIDs); start += maxInClause {
		end := start + maxInClause
		if end > len(termIDs) {
			end = len(termIDs)
		}
		chunk := termIDs[start:end]
		if _, err := d.exec(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE term_id IN (%s) AND term_id NOT IN (SELECT term_id FROM %s)",
			d.Table(TableTerms), placeholders(len(chunk)), d.Table(TableTermTaxonomy)), int64Args(chunk)...); err != nil {
			return n, fmt.Errorf("delete unused tag terms: %w", err)
		}
	}
	return n, nil
}

// Tables lists the tables carrying the configured prefix
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("show tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if strings.HasPrefix(name, d.prefix) {
			tables = append(tables, name)
		}
	}
	return tables, rows.Err()
}

// OptimizeTable runs OPTIMIZE TABLE and reports a server side error status
func (d *DB) OptimizeTable(ctx context.Context, table string) error {
	if strings.ContainsRune(table, '`') {
		return fmt.Errorf("invalid table name %q", table)
	}
	rows, err := d.db.QueryContext(ctx, "OPTIMIZE TABLE `"+table+"`")
	if err != nil {
		return fmt.Errorf("optimize %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("optimize %s: %w", table, err)
	}
	for rows.Next() {
		vals := make([]sql.RawBytes, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("optimize %s: %w", table, err)
		}
		// Table, Op, Msg_type, Msg_text
		if len(vals) >= 4 && strings.EqualFold(string(vals[2]), "error") {
			return fmt.Errorf("optimize %s: %s", table, string(vals[3]))
		}
	}
	return rows.Err()
}
