// Package shared holds code used across packages that belongs to no single
// layer. Its testutil subpackage provides the fake license server, license
// fixtures and a buffered slog handler for log assertions.
package shared
