package wpdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

// OptionPrefix namespaces the feature toggles in wp_options
const OptionPrefix = "adminx_performance_"

// LoadOptions overlays adminx_performance_* rows on base. Rows that are
// missing, unparsable or out of range leave the base value; the other rows
// still apply.
func (d *DB) LoadOptions(ctx context.Context, base configtypes.FeatureOptions) (configtypes.FeatureOptions, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT option_name, option_value FROM %s WHERE option_name LIKE ?", d.Table(TableOptions)),
		OptionPrefix+"%")
	if err != nil {
		return base, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	opts := base
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return base, fmt.Errorf("scan option: %w", err)
		}
		if !applyOption(&opts, strings.TrimPrefix(name, OptionPrefix), value) {
			d.logger.Warn("Ignoring invalid stored option",
				zap.String("option", name),
				zap.String("value", value))
		}
	}
	if err := rows.Err(); err != nil {
		return base, fmt.Errorf("read options: %w", err)
	}
	return opts, nil
}

// applyOption sets one toggle and reports false when value was rejected.
// Unknown names are ignored.
func applyOption(opts *configtypes.FeatureOptions, name, value string) bool {
	switch name {
	case "cache_enabled":
		setBool(&opts.CacheEnabled, value)
	case "optimize_enabled":
		setBool(&opts.OptimizeEnabled, value)
	case "defer_css":
		setBool(&opts.DeferCSS, value)
	case "defer_js":
		setBool(&opts.DeferJS, value)
	case "image_optimization":
		setBool(&opts.ImageOptimization, value)
	case "image_quality":
		return setQuality(&opts.ImageQuality, value)
	case "webp_enabled":
		setBool(&opts.WebPEnabled, value)
	case "webp_quality":
		return setQuality(&opts.WebPQuality, value)
	case "auto_db_cleanup":
		setBool(&opts.AutoDBCleanup, value)
	}
	return true
}

// setBool follows the WordPress convention where "", "0" and "false" are off
func setBool(dst *bool, value string) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "no", "off":
		*dst = false
	default:
		*dst = true
	}
}

func setQuality(dst *int, value string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || !configtypes.ValidQuality(n) {
		return false
	}
	*dst = n
	return true
}
