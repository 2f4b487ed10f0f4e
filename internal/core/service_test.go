package core

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rollload/internal/layout"
	"github.com/JonMunkholm/rollload/internal/observe"
	"github.com/JonMunkholm/rollload/internal/source"
	"github.com/JonMunkholm/rollload/internal/store/sqlite"
)

func testCatalog() *layout.Catalog {
	return &layout.Catalog{
		FilePrefix: "APPR_",
		Encoding:   "latin-1",
		Files: []layout.LayoutSpec{
			{
				FileType: "INFO",
				Table:    "info",
				Columns: []layout.ColumnSpec{
					{Name: "prop_id", Type: layout.BigInteger, Length: 8},
					{Name: "agent_id", Type: layout.BigInteger, Length: 6},
					{Name: "market_value", Type: layout.Decimal, Length: 9, Precision: 2},
				},
			},
			{
				FileType: "AGENT",
				Table:    "agent",
				Columns: []layout.ColumnSpec{
					{Name: "agent_id", Type: layout.BigInteger, Length: 6},
					{Name: "agent_name", Type: layout.Text, Length: 10},
					{Name: "office_code", Type: layout.Text, Length: 4},
				},
			},
			{
				FileType: "LAWSUIT",
				Table:    "lawsuit",
				Columns: []layout.ColumnSpec{
					{Name: "lawsuit_id", Type: layout.BigInteger, Length: 6},
				},
			},
		},
	}
}

type testEnv struct {
	svc    *Service
	store  *sqlite.Store
	dir    string
	dbPath string
	rec    *observe.Recorder
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "load.db")
	st, err := sqlite.New(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	// office_code is INTEGER in the table but Text in the layout, so a
	// non-numeric code is a store-side type violation.
	require.NoError(t, st.Exec(ctx, `CREATE TABLE agent (
		agent_id INTEGER PRIMARY KEY,
		agent_name TEXT,
		office_code INTEGER
	) STRICT`))
	require.NoError(t, st.Exec(ctx, `CREATE TABLE info (
		prop_id INTEGER PRIMARY KEY,
		agent_id INTEGER,
		market_value REAL
	) STRICT`))

	dir := t.TempDir()
	src, err := source.NewDir(dir)
	require.NoError(t, err)

	rec := &observe.Recorder{}
	opts.Reporter = rec
	svc, err := NewService(testCatalog(), st, src, opts)
	require.NoError(t, err)
	return &testEnv{svc: svc, store: st, dir: dir, dbPath: dbPath, rec: rec}
}

func (e *testEnv) write(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), data, 0o644))
}

// agentFile renders n agent records. Records listed in bad carry a
// non-numeric office code.
func agentFile(n int, bad ...int) []byte {
	badSet := make(map[int]bool)
	for _, b := range bad {
		badSet[b] = true
	}
	var buf bytes.Buffer
	for i := 1; i <= n; i++ {
		code := "12"
		if badSet[i] {
			code = "XX"
		}
		fmt.Fprintf(&buf, "%06d%-10s%-4s\r\n", i, fmt.Sprintf("AGENT%d", i), code)
	}
	return buf.Bytes()
}

func (e *testEnv) count(t *testing.T, table string) int64 {
	t.Helper()
	n, err := e.store.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func TestLoadFileSkipsBadRowAndSucceeds(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.write(t, "APPR_AGENT.TXT", agentFile(1000, 501))

	res := env.svc.LoadFile(context.Background(), "AGENT", LoadOptions{})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int64(999), res.Inserted)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Equal(t, "agent", res.Table)
	assert.Equal(t, "APPR_AGENT.TXT", res.FileName)
	assert.Empty(t, res.Error)
	assert.Equal(t, int64(999), env.count(t, "agent"))

	log, err := env.store.LoadLog(context.Background())
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "SUCCESS", log[0].Status)
	assert.Equal(t, int64(999), log[0].RecordsLoaded)
	assert.Equal(t, "agent", log[0].Table)

	assert.Equal(t, 1, env.rec.Count(observe.RowSkipped))
	assert.Equal(t, 1, env.rec.Count(observe.FileFinished))
}

func TestTruncateThenLoadIsIdempotent(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 64})
	env.write(t, "APPR_AGENT.TXT", agentFile(300))
	ctx := context.Background()

	first := env.svc.LoadFile(ctx, "AGENT", LoadOptions{Truncate: true})
	require.Equal(t, StatusSuccess, first.Status)
	n1 := env.count(t, "agent")

	second := env.svc.LoadFile(ctx, "AGENT", LoadOptions{Truncate: true})
	require.Equal(t, StatusSuccess, second.Status)
	n2 := env.count(t, "agent")

	assert.Equal(t, int64(300), n1)
	assert.Equal(t, n1, n2)
	assert.Equal(t, first.Inserted, second.Inserted)
	assert.Zero(t, second.Skipped)
}

func TestReloadWithoutTruncateSkipsDuplicates(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 50})
	env.write(t, "APPR_AGENT.TXT", agentFile(120))
	ctx := context.Background()

	require.Equal(t, StatusSuccess, env.svc.LoadFile(ctx, "AGENT", LoadOptions{}).Status)
	again := env.svc.LoadFile(ctx, "AGENT", LoadOptions{})

	assert.Equal(t, StatusSuccess, again.Status, "row rejections never fail a file")
	assert.Zero(t, again.Inserted)
	assert.Equal(t, int64(120), again.Skipped)
	assert.Equal(t, int64(120), env.count(t, "agent"))
}

func TestLoadFileFailures(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	missing := env.svc.LoadFile(ctx, "AGENT", LoadOptions{})
	assert.Equal(t, StatusFailed, missing.Status)
	assert.Equal(t, "FILE001", missing.ErrorCode)
	assert.Equal(t, "APPR_AGENT.TXT", missing.FileName)
	assert.Contains(t, missing.Error, "source file not found")

	unknown := env.svc.LoadFile(ctx, "BOGUS", LoadOptions{})
	assert.Equal(t, StatusFailed, unknown.Status)
	assert.Equal(t, "FILE002", unknown.ErrorCode)
	assert.Equal(t, "BOGUS", unknown.Table)

	// Layout exists but the table was never created.
	env.write(t, "APPR_LAWSUIT.TXT", []byte("000001\n"))
	noTable := env.svc.LoadFile(ctx, "LAWSUIT", LoadOptions{})
	assert.Equal(t, StatusSuccess, noTable.Status, "a missing table rejects rows, not the file")
	assert.Equal(t, int64(1), noTable.Skipped)

	log, err := env.store.LoadLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 3, "every load is logged, failed or not")
	assert.Equal(t, "FAILED", log[0].Status)
	assert.NotEmpty(t, log[0].ErrorMessage)
}

func TestLoadFileDecodesLatin1AndGzip(t *testing.T) {
	env := newTestEnv(t, Options{})
	var raw bytes.Buffer
	raw.WriteString("000001MU\xd1OZ     12  \n")

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	env.write(t, "APPR_AGENT.TXT.gz", gz.Bytes())

	res := env.svc.LoadFile(context.Background(), "AGENT", LoadOptions{})
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, "APPR_AGENT.TXT.gz", res.FileName)

	assert.Equal(t, []string{"MUÑOZ"}, env.strings(t, "SELECT agent_name FROM agent"))
}

// strings runs query on a second connection to the test database.
func (e *testEnv) strings(t *testing.T, query string) []string {
	t.Helper()
	db, err := sql.Open(sqlite.DriverName, e.dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(query)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestLoadFileMaxRecords(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 10})
	env.write(t, "APPR_AGENT.TXT", agentFile(100))

	res := env.svc.LoadFile(context.Background(), "AGENT", LoadOptions{MaxRecords: 25})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int64(25), res.Inserted)
	assert.Equal(t, int64(25), env.count(t, "agent"))
}

func TestLoadAllOrdersAndContinuesPastFailures(t *testing.T) {
	for _, parallelism := range []int{1, 3} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			env := newTestEnv(t, Options{Parallelism: parallelism})
			env.write(t, "APPR_AGENT.TXT", agentFile(5))
			env.write(t, "APPR_INFO.TXT", []byte("00000001000001000012345\n00000002000002\n"))

			results := env.svc.LoadAll(context.Background(), LoadOptions{Truncate: true})
			require.Len(t, results, 3)

			assert.Equal(t, "AGENT", results[0].FileType)
			assert.Equal(t, "INFO", results[1].FileType)
			assert.Equal(t, "LAWSUIT", results[2].FileType)

			assert.Equal(t, StatusSuccess, results[0].Status)
			assert.Equal(t, StatusSuccess, results[1].Status)
			assert.Equal(t, int64(2), results[1].Inserted)
			assert.Equal(t, StatusFailed, results[2].Status, "no LAWSUIT file in the source")

			sum := Summarize(results)
			assert.Equal(t, 2, sum.Successful)
			assert.Equal(t, 1, sum.Failed)
			assert.Equal(t, int64(7), sum.TotalRecords)
			assert.Equal(t, []string{"LAWSUIT"}, sum.FailedFiles)
		})
	}
}

func TestLoadRecordsRunHistory(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.write(t, "APPR_AGENT.TXT", agentFile(3))

	run, err := env.svc.Load(context.Background(), LoadOptions{FileTypes: []string{"AGENT"}, Trigger: "cli"})
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.State)
	require.NotNil(t, run.Summary)
	assert.Equal(t, int64(3), run.Summary.TotalRecords)
	require.Len(t, run.Results, 1)
	assert.Equal(t, run.ID, run.Results[0].RunID)

	stored, err := env.svc.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, stored.State)
	assert.Len(t, stored.Results, 1)
	assert.Len(t, env.svc.Runs(), 1)

	_, err = env.svc.Run("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStartRun(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.write(t, "APPR_AGENT.TXT", agentFile(3))
	ctx := context.Background()

	id, err := env.svc.StartRun(ctx, LoadOptions{FileTypes: []string{"AGENT", "INFO"}, Trigger: "api"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.svc.WaitForRuns(waitCtx))

	run, err := env.svc.Run(id)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.State, "INFO has no file")
	assert.Equal(t, "1 of 2 files failed", run.Error)
	assert.Len(t, run.Results, 2)
	assert.NotNil(t, run.FinishedAt)
}

func TestStartRunRejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.True(t, env.svc.limiter.TryAcquire())
	defer env.svc.limiter.Release()

	_, err := env.svc.StartRun(context.Background(), LoadOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 1, env.svc.RunStatus().Active)
}

func TestAvailableFiles(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.write(t, "APPR_AGENT.TXT", agentFile(1))
	env.write(t, "APPR_EXTRA.TXT", []byte("x\n"))
	env.write(t, "README.md", []byte("not data"))

	files, err := env.svc.AvailableFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 4)

	assert.Equal(t, FileStatus{FileType: "AGENT", Table: "agent", FileName: "APPR_AGENT.TXT", Present: true, Size: int64(len(agentFile(1)))}, files[0])
	assert.Equal(t, "INFO", files[1].FileType)
	assert.False(t, files[1].Present)
	assert.Equal(t, "LAWSUIT", files[2].FileType)
	assert.Equal(t, FileStatus{FileType: "EXTRA", FileName: "APPR_EXTRA.TXT", Present: true, Size: 2}, files[3])
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.write(t, "APPR_AGENT.TXT", agentFile(4))
	env.svc.LoadFile(context.Background(), "AGENT", LoadOptions{})

	counts := env.svc.Verify(context.Background())
	require.Len(t, counts, 3)
	assert.Equal(t, TableCount{FileType: "AGENT", Table: "agent", Rows: 4}, counts[0])
	assert.Equal(t, int64(0), counts[1].Rows)
	assert.Equal(t, int64(-1), counts[2].Rows)
	assert.NotEmpty(t, counts[2].Error)
}

func TestNewServiceRejectsUnknownEncoding(t *testing.T) {
	cat := testCatalog()
	cat.Encoding = "klingon"
	_, err := NewService(cat, nil, nil, Options{})
	assert.Error(t, err)
	assert.Equal(t, "FILE005", MapError(err).Code)
}

func TestScheduler(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.False(t, env.svc.Schedule().Enabled)
	assert.Error(t, env.svc.StartScheduler(ctx, "not a schedule", LoadOptions{}))

	require.NoError(t, env.svc.StartScheduler(ctx, "@daily", LoadOptions{Truncate: true}))
	st := env.svc.Schedule()
	assert.True(t, st.Enabled)
	assert.Equal(t, "@daily", st.Spec)
	assert.True(t, st.Next.After(time.Now()))

	assert.Error(t, env.svc.StartScheduler(ctx, "@hourly", LoadOptions{}), "only one schedule per service")
}
