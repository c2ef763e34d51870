// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package client

import (
	"context"

	"github.com/siderolabs/wgio/pkg/ifwg"
	"github.com/siderolabs/wgio/pkg/wgh"
)

// NewLocal creates a client calling into an in-process driver with the given credentials.
func NewLocal(driver *ifwg.Driver, cred ifwg.Cred) *Client {
	return NewClient(&localTransport{driver: driver, cred: cred})
}

type localTransport struct {
	driver *ifwg.Driver
	cred   ifwg.Cred
}

func (t *localTransport) IoctlWGDataIO(ctx context.Context, req uint, data *wgh.DataIO) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return t.driver.Ioctl(t.cred, req, data)
}

func (t *localTransport) Interfaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return t.driver.Interfaces(), nil
}

func (t *localTransport) Close() error { return nil }
