// Package client provides the `wq` command-line client.
//
// The CLI talks to a work queue's gRPC endpoint to queue workloads, inspect
// and steer elements, drive a local queue's sync and job feed by hand, and
// tail the feed from a terminal.
//
// # Address configuration
//
// The queue address comes from --addr, then WQ_ADDR, then 127.0.0.1:9090.
// Results print as indented JSON, or YAML with -o yaml.
//
// Usage
//
//	wq queue workloads/req-1.yaml --team production
//
//	wq status --request req-1 --status Available,Acquired
//	wq status --expr 'priority > 1000 && "SiteA" in sites'
//	wq summary --request req-1
//	wq priority req-1 50000
//	wq cancel --request req-1
//
// Driving a local queue:
//
//	wq --addr agent1:9090 slots SiteA=100,SiteB=20
//	wq --addr agent1:9090 sync
//	wq --addr agent1:9090 feed once
//	wq --addr agent1:9090 feed tail --group jobs --auto-ack
//	wq --addr agent1:9090 set-status Done 7f3c... --percent-complete 100
package client
