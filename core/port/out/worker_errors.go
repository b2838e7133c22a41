// Package out defines outbound ports (driven ports) for the application.
package out

import "errors"

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")
