package dbclean

import "time"

// Run modes
const (
	ModeComplete  = "complete"
	ModeScheduled = "scheduled"
)

// Step names, also used as metric labels
const (
	StepRevisions             = "revisions"
	StepComments              = "spam_comments"
	StepTrashPosts            = "trash_posts"
	StepTransients            = "transients"
	StepOrphanedPostMeta      = "orphaned_postmeta"
	StepOrphanedCommentMeta   = "orphaned_commentmeta"
	StepOrphanedRelationships = "orphaned_relationships"
	StepUnusedTags            = "unused_tags"
	StepOptimize              = "optimize_tables"
)

// Failure records one step, or one table of the optimize step, that failed
type Failure struct {
	Step  string `json:"step"`
	Table string `json:"table,omitempty"`
	Error string `json:"error"`
}

// Result holds the per-step counts of one cleanup run
type Result struct {
	Mode                         string        `json:"mode"`
	Skipped                      bool          `json:"skipped,omitempty"`
	RevisionsDeleted             int64         `json:"revisions_deleted"`
	SpamCommentsDeleted          int64         `json:"spam_comments_deleted"`
	TrashPostsDeleted            int64         `json:"trash_posts_deleted"`
	TransientsDeleted            int64         `json:"transients_deleted"`
	OrphanedPostMetaDeleted      int64         `json:"orphaned_postmeta_deleted"`
	OrphanedCommentMetaDeleted   int64         `json:"orphaned_commentmeta_deleted"`
	OrphanedRelationshipsDeleted int64         `json:"orphaned_relationships_deleted"`
	UnusedTagsDeleted            int64         `json:"unused_tags_deleted"`
	TablesOptimized              int           `json:"tables_optimized"`
	Failures                     []Failure     `json:"failures,omitempty"`
	Duration                     time.Duration `json:"-"`
}

// Deleted returns the row counts keyed by step name
func (r *Result) Deleted() map[string]int64 {
	return map[string]int64{
		StepRevisions:             r.RevisionsDeleted,
		StepComments:              r.SpamCommentsDeleted,
		StepTrashPosts:            r.TrashPostsDeleted,
		StepTransients:            r.TransientsDeleted,
		StepOrphanedPostMeta:      r.OrphanedPostMetaDeleted,
		StepOrphanedCommentMeta:   r.OrphanedCommentMetaDeleted,
		StepOrphanedRelationships: r.OrphanedRelationshipsDeleted,
		StepUnusedTags:            r.UnusedTagsDeleted,
	}
}

// TotalDeleted sums the rows removed by every step
func (r *Result) TotalDeleted() int64 {
	var total int64
	for _, n := range r.Deleted() {
		total += n
	}
	return total
}

// Failed reports whether any step failed
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

func (r *Result) addFailure(step, table string, err error) {
	r.Failures = append(r.Failures, Failure{Step: step, Table: table, Error: err.Error()})
}
