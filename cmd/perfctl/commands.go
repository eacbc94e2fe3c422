package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/adminx/perfgate/internal/common/adminclient"
	"github.com/adminx/perfgate/internal/edge/internal_server"
)

// call runs one admin request and prints the response
func call(cmd *cobra.Command, send func(c *adminclient.Client) (*adminclient.Response, error)) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	resp, err := send(client)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), resp)
}

func post(path string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
			return c.Post(cmd.Context(), path, nil, nil)
		})
	}
}

func get(path string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
			return c.Get(cmd.Context(), path, nil)
		})
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		Short:   "Manage the page cache",
		GroupID: GroupActions,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every cached page",
			Args:  cobra.NoArgs,
			RunE:  post(internal_server.PathCacheClear),
		},
		&cobra.Command{
			Use:     "entries",
			Aliases: []string{"ls"},
			Short:   "List cached pages",
			Args:    cobra.NoArgs,
			RunE:    get(internal_server.PathCacheEntries),
		},
	)
	return cmd
}

func newAssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assets",
		Short:   "Manage minified CSS and JS copies",
		GroupID: GroupActions,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every minified copy",
		Args:  cobra.NoArgs,
		RunE:  post(internal_server.PathAssetsClear),
	})
	return cmd
}

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Short:   "Database maintenance",
		GroupID: GroupActions,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Run every cleanup step and optimize tables",
		Long: `Delete old revisions, spam and trashed comments, old trashed posts,
expired transients, orphaned metadata and unused tags, then run
OPTIMIZE TABLE on every site table.`,
		Args: cobra.NoArgs,
		RunE: post(internal_server.PathDBCleanup),
	})
	return cmd
}

func newImagesCmd() *cobra.Command {
	var limit int

	bulk := &cobra.Command{
		Use:   "bulk",
		Short: "Optimize a batch of unoptimized images",
		Example: `  perfctl images bulk
  perfctl images bulk --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var query url.Values
			if limit > 0 {
				query = url.Values{"limit": {strconv.Itoa(limit)}}
			}
			return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
				return c.Post(cmd.Context(), internal_server.PathImagesBulk, query, nil)
			})
		},
	}
	bulk.Flags().IntVarP(&limit, "limit", "n", 0, "images per batch (gateway default when 0)")

	cmd := &cobra.Command{
		Use:     "images",
		Short:   "Image optimization",
		GroupID: GroupActions,
	}
	cmd.AddCommand(bulk)
	return cmd
}

func newPerfCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "perf [uri]",
		Short:   "Time a page render on the origin",
		GroupID: GroupInspect,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body interface{}
			if len(args) == 1 {
				body = map[string]string{"uri": args[0]}
			}
			return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
				return c.Post(cmd.Context(), internal_server.PathPerfTest, nil, body)
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Short:   "Show cache, asset, image and database statistics",
		GroupID: GroupInspect,
		Args:    cobra.NoArgs,
		RunE:    get(internal_server.PathStats),
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "health",
		Short:   "Check that the gateway is running",
		GroupID: GroupInspect,
		Args:    cobra.NoArgs,
		RunE:    get(internal_server.PathHealth),
	}
}

func newLogLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "log-level [debug|info|warn|error]",
		Short:     "Show or change the gateway log level",
		GroupID:   GroupInspect,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"debug", "info", "warn", "error"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return get(internal_server.PathLogLevel)(cmd, args)
			}
			return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
				return c.Put(cmd.Context(), internal_server.PathLogLevel, map[string]string{"level": args[0]})
			})
		},
	}
}

func newEventCmd() *cobra.Command {
	var revision bool

	postSaved := &cobra.Command{
		Use:   "post-saved <post-id>",
		Short: "Report a saved post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			body := map[string]interface{}{"post_id": id, "is_revision": revision}
			return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
				return c.Post(cmd.Context(), internal_server.PathEventPostSaved, nil, body)
			})
		},
	}
	postSaved.Flags().BoolVar(&revision, "revision", false, "the save is a revision")

	upload := &cobra.Command{
		Use:   "upload <file> <mime-type>",
		Short: "Report an uploaded file, relative to the uploads directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"file": args[0], "type": args[1]}
			return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
				return c.Post(cmd.Context(), internal_server.PathEventUpload, nil, body)
			})
		},
	}

	attachment := &cobra.Command{
		Use:   "attachment-added <attachment-id>",
		Short: "Report a new media library attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return call(cmd, func(c *adminclient.Client) (*adminclient.Response, error) {
				return c.Post(cmd.Context(), internal_server.PathEventAttachmentAdded, nil, map[string]int64{"attachment_id": id})
			})
		},
	}

	cmd := &cobra.Command{
		Use:     "event",
		Short:   "Send WordPress content events",
		GroupID: GroupEvents,
	}
	cmd.AddCommand(
		postSaved,
		&cobra.Command{
			Use:   "menu-updated",
			Short: "Report a navigation menu change",
			Args:  cobra.NoArgs,
			RunE:  post(internal_server.PathEventMenuUpdated),
		},
		upload,
		attachment,
	)
	return cmd
}
