package sweeper

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"opsdesk-backend/internal/engine"
	"opsdesk-backend/internal/media"
	"opsdesk-backend/internal/semantics"
	"opsdesk-backend/internal/storage"
	"opsdesk-backend/internal/store"
)

// Sweeper walks every media-tagged column on a schedule and re-presigns
// URLs that are inside the refresh window, persisting the new payloads.
// A failed item keeps its stale URL and is retried on the next pass.
type Sweeper struct {
	store    *store.Store
	reg      *semantics.Registry
	objects  storage.ObjectStore
	cron     *cron.Cron
	interval time.Duration

	threshold time.Duration
	skew      time.Duration
	defaults  media.Defaults
}

type Options struct {
	Interval         time.Duration
	RefreshThreshold time.Duration
	ClockSkew        time.Duration
	MediaDefaults    media.Defaults
}

func New(s *store.Store, reg *semantics.Registry, objects storage.ObjectStore, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Hour
	}
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = 24 * time.Hour
	}
	return &Sweeper{
		store:     s,
		reg:       reg,
		objects:   objects,
		cron:      cron.New(),
		interval:  opts.Interval,
		threshold: opts.RefreshThreshold,
		skew:      opts.ClockSkew,
		defaults:  opts.MediaDefaults,
	}
}

// Start registers the recurring job and runs one pass immediately so a
// restart never leaves URLs stale for a full interval.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule media sweep: %w", err)
	}
	s.cron.Start()
	log.Printf("Media refresh sweep scheduled (%s)", spec)

	go s.Sweep(context.Background())
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Media refresh sweep stopped")
}

// Sweep runs one full pass over all media columns. It is idempotent: a
// payload whose URLs are still outside the refresh window is left
// byte-for-byte untouched.
func (s *Sweeper) Sweep(ctx context.Context) {
	cols, err := s.reg.AllMediaColumns(ctx)
	if err != nil {
		log.Printf("ERROR: media sweep aborted: %v", err)
		return
	}
	if len(cols) == 0 {
		return
	}

	byTable := map[string][]semantics.ColumnSemantics{}
	for _, cs := range cols {
		byTable[cs.TableName] = append(byTable[cs.TableName], cs)
	}

	var refreshed, failed int
	for table, tableCols := range byTable {
		r, f := s.sweepTable(ctx, table, tableCols)
		refreshed += r
		failed += f
	}
	if refreshed > 0 || failed > 0 {
		log.Printf("Media sweep done: %d payloads refreshed, %d failed", refreshed, failed)
	}
}

func (s *Sweeper) sweepTable(ctx context.Context, table string, cols []semantics.ColumnSemantics) (refreshed, failed int) {
	exists, err := s.store.TableExists(ctx, table)
	if err != nil {
		log.Printf("ERROR: media sweep of %s: %v", table, err)
		return 0, 1
	}
	if !exists {
		// Semantics can outlive a dropped table; skip quietly.
		return 0, 0
	}

	// A semantics row can outlive its column too; a dropped column must
	// not take the rest of the table's refresh down with it.
	cols = liveColumns(cols, func(column string) bool {
		return s.columnExists(ctx, table, column)
	})
	if len(cols) == 0 {
		return 0, 0
	}

	names := make([]string, 0, len(cols))
	guards := make([]string, 0, len(cols))
	for _, cs := range cols {
		names = append(names, cs.ColumnName)
		guards = append(guards, cs.ColumnName+" IS NOT NULL")
	}

	rows, err := store.QueryRows(ctx, s.store.Pool, fmt.Sprintf(
		"SELECT id, %s FROM %s WHERE %s",
		strings.Join(names, ", "), table, strings.Join(guards, " OR ")))
	if err != nil {
		log.Printf("ERROR: media sweep of %s: %v", table, err)
		return 0, 1
	}

	now := time.Now()
	for _, row := range rows {
		id, _ := row["id"].(string)
		for _, cs := range cols {
			sem := cs
			ref := media.Parse(row[cs.ColumnName], &sem, s.defaults)
			if len(ref.Items) == 0 || !ref.NeedsRefresh(s.threshold, s.skew, now) {
				continue
			}

			items := engine.RefreshItems(ctx, s.objects, ref.Items)
			stored, err := ref.WithRefreshedItems(items).StorageForm()
			if err != nil {
				log.Printf("ERROR: media sweep %s.%s row %s: %v", table, cs.ColumnName, id, err)
				failed++
				continue
			}

			if _, err := store.Exec(ctx, s.store.Pool, fmt.Sprintf(
				"UPDATE %s SET %s = $1 WHERE id = $2", table, cs.ColumnName), stored, id); err != nil {
				log.Printf("ERROR: media sweep %s.%s row %s: %v", table, cs.ColumnName, id, err)
				failed++
				continue
			}
			refreshed++
		}
	}
	return refreshed, failed
}

// liveColumns keeps only the semantics rows whose column is still present.
func liveColumns(cols []semantics.ColumnSemantics, present func(column string) bool) []semantics.ColumnSemantics {
	live := make([]semantics.ColumnSemantics, 0, len(cols))
	for _, cs := range cols {
		if !present(cs.ColumnName) {
			log.Printf("WARN: media sweep skipping %s.%s: column no longer exists", cs.TableName, cs.ColumnName)
			continue
		}
		live = append(live, cs)
	}
	return live
}

func (s *Sweeper) columnExists(ctx context.Context, table, column string) bool {
	row, err := store.QueryRow(ctx, s.store.Pool,
		`SELECT EXISTS(SELECT 1 FROM information_schema.columns
		 WHERE table_name = $1 AND column_name = $2 AND table_schema = 'public') AS present`,
		strings.ToLower(table), strings.ToLower(column))
	if err != nil {
		return false
	}
	present, _ := row["present"].(bool)
	return present
}
