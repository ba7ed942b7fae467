// Package testutil provides shared test helpers: a log capturing slog handler,
// an httptest license server with recorded requests and overridable handlers,
// and license fixtures such as keys, fingerprints and a settable clock.
//
// It depends only on pkg/contracts so that package-internal tests of
// internal/license can import it without a cycle.
package testutil
