// Package http serves the loopback license API used by local tools and UIs.
//
// Handlers are thin: they decode and validate requests, call the license
// Manager or Gate, and render JSON. Failures are rendered as RFC 7807
// problem details by the errors package, so a rejected activation from the
// license server and a denied Pro feature look the same on the wire:
//
//	{
//	  "type": "/errors/license/feature-unavailable",
//	  "title": "Feature Unavailable",
//	  "status": 403,
//	  "feature_id": "pro.reports.export",
//	  "activate_command": "prolicense activate <key>",
//	  "trace_id": "..."
//	}
//
// License keys never appear in responses or logs unmasked.
//
// NewRouter assembles the handlers with request ids, tracing, panic recovery
// and security headers. The events endpoint upgrades to a websocket and
// pushes a license:status message whenever the gate reloads.
package http
