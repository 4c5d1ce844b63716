package api

import (
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/relay/internal/apperr"
)

// Code maps a domain error kind to a gRPC code.
func Code(err error) codes.Code {
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return codes.InvalidArgument
	case apperr.Authorization:
		return codes.PermissionDenied
	case apperr.NotFound:
		return codes.NotFound
	case apperr.Conflict:
		return codes.FailedPrecondition
	case apperr.Transient:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Status converts err into a gRPC status error with a client-safe message.
func Status(err error) error {
	if err == nil {
		return nil
	}
	return grpcstatus.Error(Code(err), apperr.Message(err))
}
