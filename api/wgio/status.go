// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pb

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/siderolabs/wgio/pkg/wgh"
)

// StatusError converts a control operation error into a gRPC status error.
//
// For wgh.ErrBufferTooSmall, the required size is attached as a
// wrapperspb.UInt64Value detail.
func StatusError(err error, requiredSize uint64) error {
	var code codes.Code

	switch {
	case err == nil:
		return nil
	case errors.Is(err, wgh.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, wgh.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, wgh.ErrPermissionDenied):
		code = codes.PermissionDenied
	case errors.Is(err, wgh.ErrBufferTooSmall):
		st, detailErr := status.New(codes.ResourceExhausted, err.Error()).WithDetails(wrapperspb.UInt64(requiredSize))
		if detailErr != nil {
			return status.Error(codes.Internal, detailErr.Error())
		}

		return st.Err()
	default:
		code = codes.Internal
	}

	return status.Error(code, err.Error())
}

// FromStatusError converts a gRPC status error back into a control operation error.
//
// The returned size is the required size carried by a wgh.ErrBufferTooSmall
// status, zero otherwise.
func FromStatusError(err error) (uint64, error) {
	if err == nil {
		return 0, nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return 0, err
	}

	switch st.Code() { //nolint:exhaustive
	case codes.NotFound:
		return 0, fmt.Errorf("%w: %s", wgh.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return 0, fmt.Errorf("%w: %s", wgh.ErrInvalidArgument, st.Message())
	case codes.PermissionDenied, codes.Unauthenticated:
		return 0, fmt.Errorf("%w: %s", wgh.ErrPermissionDenied, st.Message())
	case codes.ResourceExhausted:
		for _, detail := range st.Details() {
			if size, ok := detail.(*wrapperspb.UInt64Value); ok {
				return size.GetValue(), fmt.Errorf("%w: %s", wgh.ErrBufferTooSmall, st.Message())
			}
		}
	}

	return 0, err
}
