package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"

	"github.com/JonMunkholm/rollload/internal/fixedwidth"
	"github.com/JonMunkholm/rollload/internal/layout"
	"github.com/JonMunkholm/rollload/internal/logging"
	"github.com/JonMunkholm/rollload/internal/observe"
	"github.com/JonMunkholm/rollload/internal/source"
	"github.com/JonMunkholm/rollload/internal/store"
)

// RecordLoadTimeout bounds the write to the load log after each file.
var RecordLoadTimeout = 10 * time.Second

// Options configure a Service. Zero values select defaults.
type Options struct {
	BatchSize     int
	ProgressEvery int
	// Parallelism is how many file types of one dependency tier load at
	// once. 1 loads strictly in priority order.
	Parallelism  int
	SkipHeader   bool
	MaxLineBytes int
	HistorySize  int
	// RunTimeout bounds a run started with StartRun. 0 means no limit.
	RunTimeout time.Duration
	Reporter   observe.Reporter
}

// Service orchestrates file loads from a source into a store.
type Service struct {
	catalog  *layout.Catalog
	store    store.Store
	source   source.Source
	opts     Options
	encoding encoding.Encoding
	reporter observe.Reporter
	decoders map[string]*fixedwidth.Decoder

	tablesMu sync.Mutex
	tables   map[string]*sync.Mutex

	limiter *RunLimiter
	history *runHistory

	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup

	schedMu sync.Mutex
	sched   *schedule
}

// NewService creates a Service. Decoders for every layout in catalog are
// built once and shared by all runs.
func NewService(catalog *layout.Catalog, st store.Store, src source.Source, opts Options) (*Service, error) {
	enc, err := fixedwidth.LookupEncoding(catalog.Encoding)
	if err != nil {
		return nil, fmt.Errorf("catalog encoding: %w", err)
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}

	reporter := opts.Reporter
	if reporter == nil {
		reporter = observe.Nop()
	}

	decoders := make(map[string]*fixedwidth.Decoder, len(catalog.Files))
	for i := range catalog.Files {
		spec := &catalog.Files[i]
		decoders[spec.FileType] = fixedwidth.NewDecoder(spec, reporter)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		catalog:    catalog,
		store:      st,
		source:     src,
		opts:       opts,
		encoding:   enc,
		reporter:   reporter,
		decoders:   decoders,
		tables:     make(map[string]*sync.Mutex),
		limiter:    NewRunLimiter(DefaultMaxConcurrentRuns),
		history:    newRunHistory(opts.HistorySize),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}, nil
}

// Catalog returns the layouts the service loads.
func (s *Service) Catalog() *layout.Catalog { return s.catalog }

// Ping checks the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// tableLock serializes loads that target the same table.
func (s *Service) tableLock(table string) *sync.Mutex {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	mu, ok := s.tables[table]
	if !ok {
		mu = &sync.Mutex{}
		s.tables[table] = mu
	}
	return mu
}

// LoadFile loads one file type and returns exactly one result; failures
// are described by a Failed result. The outcome is written to the store's
// load log.
func (s *Service) LoadFile(ctx context.Context, fileType string, opts LoadOptions) LoadResult {
	start := time.Now()
	res := LoadResult{
		RunID:    logging.RunIDFromContext(ctx),
		FileType: fileType,
		FileName: source.FileName(s.catalog.FilePrefix, fileType),
		Table:    fileType,
	}
	if spec, ok := s.catalog.Layout(fileType); ok {
		res.Table = spec.Table
	}

	s.reporter.Report(observe.Event{Kind: observe.FileStarted, RunID: res.RunID, FileType: fileType, Table: res.Table})

	err := s.loadFile(ctx, &res, opts)

	res.Duration = time.Since(start)
	res.CompletedAt = time.Now()
	res.Status = StatusSuccess
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.ErrorCode = MapError(err).Code
	}

	s.recordLoad(ctx, res)
	s.reporter.Report(observe.Event{
		Kind:     observe.FileFinished,
		RunID:    res.RunID,
		FileType: fileType,
		Table:    res.Table,
		Rows:     int(res.Inserted),
		Skipped:  int(res.Skipped),
		Status:   string(res.Status),
		Duration: res.Duration,
		Err:      err,
	})
	return res
}

func (s *Service) loadFile(ctx context.Context, res *LoadResult, opts LoadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	spec, ok := s.catalog.Layout(res.FileType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFileType, res.FileType)
	}

	rc, info, err := source.OpenFile(ctx, s.source, s.catalog.FilePrefix, res.FileType)
	if err != nil {
		return err
	}
	res.FileName = info.Name
	defer rc.Close()

	// Only uncompressed files report a percentage.
	var total int64
	if source.DetectCompression(info.Name) == source.None {
		total = info.Size
	}
	counter := fixedwidth.NewCountingReader(rc, total)

	scanner := fixedwidth.NewScanner(counter, s.decoders[res.FileType], fixedwidth.ScanOptions{
		Encoding:     s.encoding,
		MaxRecords:   opts.MaxRecords,
		SkipHeader:   s.opts.SkipHeader,
		MaxLineBytes: s.opts.MaxLineBytes,
		RunID:        res.RunID,
	}, s.reporter)
	defer scanner.Close()

	lock := s.tableLock(spec.Table)
	lock.Lock()
	defer lock.Unlock()

	if opts.Truncate {
		logging.WithFields(ctx, "file_type", res.FileType, "table", spec.Table).Info("truncating table")
		if err := s.store.Truncate(ctx, spec.Table); err != nil {
			return err
		}
	}

	// The session is released before the load log is written.
	sess, err := s.store.Open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	loader := Loader{
		BatchSize:     s.opts.BatchSize,
		ProgressEvery: s.opts.ProgressEvery,
		Reporter:      s.reporter,
	}
	counts, err := loader.Load(ctx, sess, scanner, Target{
		RunID:    res.RunID,
		FileType: res.FileType,
		Table:    spec.Table,
		Columns:  spec.ActiveColumnNames(),
		Percent:  counter.Progress,
	})
	res.Inserted = counts.Inserted
	res.Skipped = counts.Skipped
	res.LinesDropped = scanner.Dropped()
	return err
}

// recordLoad writes res to the load log. A failure is logged, not returned.
func (s *Service) recordLoad(ctx context.Context, res LoadResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordLoadTimeout)
	defer cancel()

	err := s.store.RecordLoad(ctx, store.LoadLogEntry{
		RunID:         res.RunID,
		FileName:      res.FileName,
		Table:         res.Table,
		RecordsLoaded: res.Inserted,
		Status:        string(res.Status),
		ErrorMessage:  res.Error,
		CompletedAt:   res.CompletedAt,
	})
	if err != nil {
		logging.WithFields(ctx, "file_type", res.FileType).Warn("failed to write load log", "error", err)
	}
}

// LoadAll loads the requested file types (every catalog type when empty)
// tier by tier in dependency order and returns one result per file type in
// that order. Within a tier up to Parallelism files load concurrently.
func (s *Service) LoadAll(ctx context.Context, opts LoadOptions) []LoadResult {
	fileTypes := opts.FileTypes
	if len(fileTypes) == 0 {
		fileTypes = s.catalog.FileTypes()
	}
	return s.loadTiers(ctx, opts, Tiers(fileTypes), nil)
}

// loadTiers runs each tier to completion before starting the next. done,
// if set, is called as each file finishes.
func (s *Service) loadTiers(ctx context.Context, opts LoadOptions, tiers [][]string, done func(LoadResult)) []LoadResult {
	var results []LoadResult
	for _, tier := range tiers {
		tierResults := make([]LoadResult, len(tier))

		var g errgroup.Group
		g.SetLimit(s.opts.Parallelism)
		for i, ft := range tier {
			g.Go(func() error {
				tierResults[i] = s.LoadFile(ctx, ft, opts)
				if done != nil {
					done(tierResults[i])
				}
				return nil
			})
		}
		_ = g.Wait()

		results = append(results, tierResults...)
	}
	return results
}

// Load runs a load synchronously, waiting for any active run to finish
// first. The run is recorded in the history.
func (s *Service) Load(ctx context.Context, opts LoadOptions) (Run, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return Run{}, err
	}
	defer s.limiter.Release()

	run := s.newRun(opts)
	return s.execute(ctx, run), nil
}

// StartRun begins an asynchronous run and returns its id immediately.
// It returns ErrRunInProgress if another run holds the limiter.
func (s *Service) StartRun(ctx context.Context, opts LoadOptions) (string, error) {
	if !s.limiter.TryAcquire() {
		return "", ErrRunInProgress
	}
	run := s.newRun(opts)

	runCtx := s.runCtx
	var cancel context.CancelFunc = func() {}
	if s.opts.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.opts.RunTimeout)
	}
	logging.FromContext(ctx).Info("load run accepted", "run_id", run.ID, "trigger", opts.Trigger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		defer cancel()
		s.execute(runCtx, run)
	}()
	return run.ID, nil
}

func (s *Service) newRun(opts LoadOptions) Run {
	run := Run{
		ID:        uuid.New().String(),
		State:     RunRunning,
		Options:   opts,
		StartedAt: time.Now(),
	}
	s.history.put(run)
	return run
}

func (s *Service) execute(ctx context.Context, run Run) Run {
	ctx = logging.ContextWithRunID(ctx, run.ID)
	log := logging.FromContext(ctx)

	fileTypes := run.Options.FileTypes
	if len(fileTypes) == 0 {
		fileTypes = s.catalog.FileTypes()
	}
	tiers := Tiers(fileTypes)
	log.Info("load run started",
		"trigger", run.Options.Trigger,
		"files", len(fileTypes),
		"tiers", len(tiers),
		"truncate", run.Options.Truncate,
		"max_records", run.Options.MaxRecords,
		"source", s.source.Location(),
	)

	run.Results = s.loadTiers(ctx, run.Options, tiers, func(res LoadResult) {
		s.history.appendResult(run.ID, res)
	})

	finished := time.Now()
	summary := Summarize(run.Results)
	run.FinishedAt = &finished
	run.WallTime = finished.Sub(run.StartedAt)
	run.Summary = &summary
	run.State = RunCompleted
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		run.State = RunFailed
		run.Error = "run timed out"
	case ctx.Err() != nil:
		run.State = RunFailed
		run.Error = "run cancelled"
	case summary.Failed > 0:
		run.State = RunFailed
		run.Error = fmt.Sprintf("%d of %d files failed", summary.Failed, summary.TotalFiles)
	}
	s.history.put(run)

	log.Info("load run finished",
		"state", run.State,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"records", summary.TotalRecords,
		"skipped", summary.TotalSkipped,
		"wall_time", run.WallTime,
	)
	return run
}

// Run returns a recorded run with its per-file results.
func (s *Service) Run(id string) (Run, error) {
	run, ok := s.history.get(id)
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Runs returns recorded runs, newest first, without per-file results.
func (s *Service) Runs() []Run {
	return s.history.list()
}

// RunStatus reports limiter occupancy.
func (s *Service) RunStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until asynchronous runs finish or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelRuns cancels every asynchronous run. In-flight files finish as
// Failed results.
func (s *Service) CancelRuns() {
	s.cancelRuns()
}

// AvailableFiles reports every catalog file type and whether its file is
// present in the source, in load order. Files in the source with no layout
// are appended with an empty Table.
func (s *Service) AvailableFiles(ctx context.Context) ([]FileStatus, error) {
	found, err := source.Discover(ctx, s.source, s.catalog.FilePrefix)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]source.Available, len(found))
	for _, a := range found {
		byType[a.FileType] = a
	}

	var out []FileStatus
	for _, ft := range OrderFileTypes(s.catalog.FileTypes()) {
		spec, _ := s.catalog.Layout(ft)
		st := FileStatus{FileType: ft, Table: spec.Table, FileName: source.FileName(s.catalog.FilePrefix, ft)}
		if a, ok := byType[ft]; ok {
			st.Present = true
			st.FileName = a.File.Name
			st.Size = a.File.Size
			delete(byType, ft)
		}
		out = append(out, st)
	}
	for _, a := range found {
		if _, ok := byType[a.FileType]; ok {
			out = append(out, FileStatus{FileType: a.FileType, FileName: a.File.Name, Present: true, Size: a.File.Size})
		}
	}
	return out, nil
}

// Verify counts the rows of every catalog table in load order. A failed
// count is reported as -1 with its error.
func (s *Service) Verify(ctx context.Context) []TableCount {
	fileTypes := OrderFileTypes(s.catalog.FileTypes())
	counts := make([]TableCount, 0, len(fileTypes))
	for _, ft := range fileTypes {
		spec, _ := s.catalog.Layout(ft)
		tc := TableCount{FileType: ft, Table: spec.Table}
		n, err := s.store.Count(ctx, spec.Table)
		if err != nil {
			tc.Rows = -1
			tc.Error = err.Error()
		} else {
			tc.Rows = n
		}
		counts = append(counts, tc)
	}
	return counts
}
