package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/smallbiznis/compliancehub/internal/config"
	notificationclient "github.com/smallbiznis/compliancehub/internal/notification/client"
	notificationdomain "github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/notification/feed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type notificationsOptions struct {
	apiURL      string
	token       string
	pageSize    int
	all         bool
	markAllRead bool
	markRead    []string
	follow      bool
	verbose     bool
}

func notificationsCmd() *cobra.Command {
	opts := notificationsOptions{}
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show the notification feed and unread count for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNotifications(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.apiURL, "api-url", envOr("COMPLIANCE_API_URL", "http://localhost:8080"), "API base URL")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("COMPLIANCE_TOKEN"), "Bearer token (see `compliance token`)")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", config.DefaultInvoicingConfig().NotificationPageSize, "Rows per page")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Load every page")
	cmd.Flags().BoolVar(&opts.markAllRead, "mark-all-read", false, "Mark every notification read")
	cmd.Flags().StringSliceVar(&opts.markRead, "mark-read", nil, "Mark the given notification ids read")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Stream new notifications until interrupted")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log client activity to stderr")

	return cmd
}

func runNotifications(ctx context.Context, out io.Writer, opts notificationsOptions) error {
	log := zap.NewNop()
	if opts.verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = dev.Sync() }()
		log = dev
	}

	client, err := notificationclient.New(opts.apiURL, opts.token, notificationclient.WithLogger(log))
	if err != nil {
		return err
	}

	bus := feed.NewResyncBus()
	items := feed.New(client,
		feed.WithPageSize(opts.pageSize),
		feed.WithResyncBus(bus),
		feed.WithLogger(log),
	)

	if err := items.Bootstrap(ctx); err != nil {
		return err
	}
	for opts.all && !items.Snapshot().End {
		if _, err := items.LoadMore(ctx); err != nil {
			return err
		}
	}

	if len(opts.markRead) > 0 {
		affected, err := items.MarkRead(ctx, opts.markRead)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "marked %d read\n", affected)
	}
	if opts.markAllRead {
		affected, err := items.MarkAllRead(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "marked %d read\n", affected)
	}

	snapshot := items.Snapshot()
	printFeed(out, snapshot)
	if !opts.follow {
		return nil
	}

	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	badge := feed.NewBadge(client, bus, log)
	resync := make(chan struct{}, 1)
	cancel, err := client.Subscribe(ctx, func(event notificationdomain.Event) {
		if event.Kind == notificationdomain.EventResync {
			select {
			case resync <- struct{}{}:
			default:
			}
			return
		}
		items.Apply(event)
		if event.Kind == notificationdomain.EventInsert {
			printf("+ %s  %s  %s\n", event.Notification.ID, event.Notification.Type, event.Notification.Title)
		}
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		cancel()
		return nil
	})
	g.Go(func() error {
		last := snapshot.Unread
		return badge.Run(gctx, func(count int64) {
			if count != last {
				last = count
				printf("unread: %d\n", count)
			}
		})
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-resync:
				if err := items.Resync(gctx); err != nil && !isCanceled(err) {
					log.Warn("resync after reconnect failed", zap.Error(err))
					continue
				}
				printf("reconnected, unread: %d\n", items.Unread())
			}
		}
	})
	g.Go(func() error {
		// Push events move the local counter; reconcile it with the server periodically.
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := items.RefreshUnread(gctx); err != nil && !isCanceled(err) {
					log.Warn("refresh unread failed", zap.Error(err))
					continue
				}
				bus.Publish()
			}
		}
	})
	return g.Wait()
}

func printFeed(out io.Writer, snapshot feed.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tREAD\tCREATED\tTITLE")
	for _, n := range snapshot.Items {
		read := "no"
		if n.IsRead() {
			read = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Type, read, n.CreatedAt.Format(time.RFC3339), n.Title)
	}
	_ = w.Flush()

	more := ""
	if !snapshot.End {
		more = " (more available, use --all)"
	}
	fmt.Fprintf(out, "%d shown, %d unread%s\n", len(snapshot.Items), snapshot.Unread, more)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
