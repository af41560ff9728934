// Package grpcserver exposes a queue over gRPC. Messages are the JSON
// shapes of package workqueues, carried by a codec registered under the
// "json" content subtype; the service descriptor is declared by hand.
//
// The same service serves child queues (GetWork, AcquiredBy and
// ApplyChildUpdates) and operators (every other method).
package grpcserver
