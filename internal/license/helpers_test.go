package license

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"prolicense/internal/shared/testutil"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, clock *testutil.Clock, opts ...Option) *Store {
	t.Helper()
	return newTestStoreAt(t, t.TempDir(), clock, opts...)
}

func newTestStoreAt(t *testing.T, root string, clock *testutil.Clock, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithFingerprint(testutil.Fingerprint(testutil.TestFingerprint)),
		WithClock(clock.Now),
		WithLogger(discardLogger()),
	}
	return NewStore(root, append(base, opts...)...)
}

func testRecord(activatedAt time.Time, features ...string) *Record {
	if features == nil {
		features = []string{"pro.*"}
	}
	return &Record{
		Key:             testutil.ValidKey,
		ActivatedAt:     activatedAt,
		Features:        features,
		CacheValidDays:  30,
		GracePeriodDays: 7,
	}
}

// staticSource is a RecordSource returning a fixed record and counting reads.
type staticSource struct {
	rec   *Record
	reads atomic.Int32
}

func (s *staticSource) Read() *Record {
	s.reads.Add(1)
	return s.rec
}

type panicSource struct{}

func (panicSource) Read() *Record { panic("disk on fire") }
