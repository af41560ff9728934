// Package workqueues is the service layer between the transports (gRPC,
// HTTP, CLI) and one queue runtime.
//
// # Overview
//
// A queue is either global, accepting requests and handing their elements
// to child queues, or local, pulling elements from its parent and feeding
// them to job creation. Both expose the same operations; the ones that only
// make sense on one kind return ErrNotLocal or ErrNoFeed elsewhere.
//
// # Operations
//
//   - QueueWork: split a request into elements (idempotent)
//   - GetWork: acquire elements for a child queue within a site slot budget
//   - AcquiredBy: elements a child queue holds but has not reported on
//   - ApplyChildUpdates: status and progress reported by a child queue
//   - Status / Summary / Stats: element and request views
//   - SetPriority, CancelWork, UpdateStatus: request and element control
//   - Cleanup, RefreshLocations, Sync, FeedOnce: one pass of each loop
//   - ReadFeed / AckFeed: the local job feed for job-creation consumers
//   - SetSlots: update the site resource view
//
// # Errors
//
// Engine errors pass through unchanged so transports can classify them with
// errors.Is / errors.As. QueueWork folds the idempotent duplicate case and
// per-task failures into its response instead of failing the call.
package workqueues
