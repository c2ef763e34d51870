// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !openbsd

package client

import (
	"errors"
	"fmt"
	"runtime"
)

// New creates a client issuing control operations to the kernel.
//
// The kernel interface only exists on OpenBSD.
func New() (*Client, error) {
	return nil, fmt.Errorf("wg_data_io control operations on %s: %w", runtime.GOOS, errors.ErrUnsupported)
}
