// Package workqueue implements the queue engine shared by the global queue
// and the per-agent local queues.
//
// An engine owns one element store. Requests enter through QueueWork, which
// splits them into Available elements. GetWork hands elements to a pulling
// queue; a local queue pulls from its parent through queuesync and hands its
// own acquisitions to job creation. Status flows back up through
// ApplyChildUpdates.
//
// # Element lifecycle
//
//	Available -> Negotiating -> Acquired -> Running -> Done
//	Available | Negotiating | Acquired | Running -> Canceled | Failed
//	Available -> CancelRequested -> Canceled
//
// Negotiating elements older than the negotiation timeout return to
// Available during cleanup. Nothing else moves backwards.
//
// # Concurrency
//
// There is no engine-wide lock. Every write is a revision-checked put; a lost
// check is re-read and retried with backoff, and after ConflictRetries the
// update is left for the next cycle. GetWork treats a lost claim as "taken"
// and moves to the next candidate.
//
// # Acquisition order
//
// Candidates are visited by descending priority, then insertion order. An
// element that has eligible sites but fits none of their remaining budgets
// holds those sites for the rest of the call, so large work is not starved by
// smaller work queued behind it.
package workqueue
