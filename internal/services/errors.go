package services

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-fleetsim/internal/history"
	"github.com/miradorstack/mirador-fleetsim/internal/incidents"
	"github.com/miradorstack/mirador-fleetsim/internal/simulation"
	"github.com/miradorstack/mirador-fleetsim/internal/topology"
)

var (
	notFound = []error{
		incidents.ErrUnknownScenario,
		incidents.ErrUnknownNode,
		incidents.ErrIncidentNotFound,
		topology.ErrUnknownApplication,
	}
	invalid = []error{
		incidents.ErrInvalidOptions,
		incidents.ErrNoPhases,
		simulation.ErrInvalidRule,
		history.ErrUnknownMetric,
		history.ErrUnsupportedFormat,
	}
	precondition = []error{
		incidents.ErrIncidentActive,
		incidents.ErrIncidentNotActive,
	}
)

// statusFor maps domain errors onto gRPC status codes.
func statusFor(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case matchesAny(err, notFound):
		return status.Error(codes.NotFound, err.Error())
	case matchesAny(err, invalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case matchesAny(err, precondition):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
