package wpdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/adminx/perfgate/pkg/types"
)

// optimizableMimes are the attachment types the image optimizer handles
var optimizableMimes = []interface{}{types.MimeJPEG, types.MimePNG}

// UnoptimizedAttachments returns up to limit JPEG/PNG attachments without the
// optimized marker, oldest first.
func (d *DB) UnoptimizedAttachments(ctx context.Context, limit int) ([]types.Attachment, error) {
	query := fmt.Sprintf(`SELECT p.ID, p.post_mime_type, COALESCE(f.meta_value, '')
FROM %[1]s p
LEFT JOIN %[2]s f ON f.post_id = p.ID AND f.meta_key = ?
LEFT JOIN %[2]s m ON m.post_id = p.ID AND m.meta_key = ?
WHERE p.post_type = 'attachment' AND p.post_mime_type IN (?, ?)
AND m.post_id IS NULL
ORDER BY p.ID ASC
LIMIT ?`, d.Table(TablePosts), d.Table(TablePostMeta))

	args := []interface{}{types.MetaAttachedFile, types.MetaOptimized}
	args = append(args, optimizableMimes...)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unoptimized attachments: %w", err)
	}
	defer rows.Close()

	var out []types.Attachment
	for rows.Next() {
		var a types.Attachment
		if err := rows.Scan(&a.ID, &a.MimeType, &a.File); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountUnoptimized counts JPEG/PNG attachments still lacking the marker
func (d *DB) CountUnoptimized(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %[1]s p
LEFT JOIN %[2]s m ON m.post_id = p.ID AND m.meta_key = ?
WHERE p.post_type = 'attachment' AND p.post_mime_type IN (?, ?)
AND m.post_id IS NULL`, d.Table(TablePosts), d.Table(TablePostMeta))

	args := append([]interface{}{types.MetaOptimized}, optimizableMimes...)
	n, err := d.count(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("count unoptimized attachments: %w", err)
	}
	return n, nil
}

// Attachment loads one attachment by id. Returns false when it does not exist.
func (d *DB) Attachment(ctx context.Context, id int64) (types.Attachment, bool, error) {
	query := fmt.Sprintf(`SELECT p.ID, p.post_mime_type, COALESCE(f.meta_value, '')
FROM %[1]s p
LEFT JOIN %[2]s f ON f.post_id = p.ID AND f.meta_key = ?
WHERE p.ID = ? AND p.post_type = 'attachment'`, d.Table(TablePosts), d.Table(TablePostMeta))

	var a types.Attachment
	err := d.db.QueryRowContext(ctx, query, types.MetaAttachedFile, id).Scan(&a.ID, &a.MimeType, &a.File)
	if errors.Is(err, sql.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, fmt.Errorf("load attachment %d: %w", id, err)
	}
	return a, true, nil
}

// MarkOptimized stores the optimized marker and byte savings, replacing
// earlier values.
func (d *DB) MarkOptimized(ctx context.Context, id int64, savings int64) error {
	if _, err := d.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE post_id = ? AND meta_key IN (?, ?)", d.Table(TablePostMeta)),
		id, types.MetaOptimized, types.MetaSizeSavings); err != nil {
		return fmt.Errorf("clear optimization meta for %d: %w", id, err)
	}
	if _, err := d.exec(ctx, fmt.Sprintf("INSERT INTO %s (post_id, meta_key, meta_value) VALUES (?, ?, ?), (?, ?, ?)", d.Table(TablePostMeta)),
		id, types.MetaOptimized, "1", id, types.MetaSizeSavings, strconv.FormatInt(savings, 10)); err != nil {
		return fmt.Errorf("write optimization meta for %d: %w", id, err)
	}
	return nil
}

// ImageCounts returns the totals behind the image statistics
func (d *DB) ImageCounts(ctx context.Context) (total, optimized, savings int64, err error) {
	total, err = d.count(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE post_type = 'attachment' AND post_mime_type IN (?, ?)", d.Table(TablePosts)),
		optimizableMimes...)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count images: %w", err)
	}

	optimized, err = d.count(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %[1]s p
INNER JOIN %[2]s pm ON pm.post_id = p.ID AND pm.meta_key = ?
WHERE p.post_type = 'attachment' AND p.post_mime_type IN (?, ?)`, d.Table(TablePosts), d.Table(TablePostMeta)),
		append([]interface{}{types.MetaOptimized}, optimizableMimes...)...)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count optimized images: %w", err)
	}

	savings, err = d.count(ctx, fmt.Sprintf(
		"SELECT SUM(CAST(meta_value AS SIGNED)) FROM %s WHERE meta_key = ?", d.Table(TablePostMeta)),
		types.MetaSizeSavings)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sum image savings: %w", err)
	}
	return total, optimized, savings, nil
}
