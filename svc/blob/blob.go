// Package blob stores the raw bytes of uploaded files, keyed by storage path.
package blob

import (
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("blob not found")
