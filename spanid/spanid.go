// Package spanid generates correlation identifiers for log lines.
// sslxray tags each connection's debug and error-level lines with a span
// id, stored alongside its numeric ID (conn.go), so one connection's
// scattered output can be grepped back together.
package spanid

import "github.com/google/uuid"

// New returns a random UUID suitable for tagging one connection's log
// lines for its lifetime.
func New() string {
	return uuid.NewString()
}
