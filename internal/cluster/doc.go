// Package cluster holds the wire contract between the coordinator and the
// worker nodes, and the outbound channel the coordinator uses to reach them.
//
// # Wire Contract
//
// Workers expose form-encoded HTTP endpoints under /worker/. Requests carry
// accountId, sourceAccount, destAccount and amount as query or form values;
// replies are plain text:
//
//	GET  /worker/balance?accountId=42      200 "150.00" | 404
//	POST /worker/transfer                  200 "CONFIRMED: ..." | 4xx/5xx "ERROR: <STATUS> - ..."
//	GET  /worker/partial-total             200 "300.00"
//	GET  /worker/health                    200 "OK"
//
// Amounts travel as fixed two-decimal text.
//
// # Remote Node Channel
//
// Channel is the single outbound path. Properties:
//   - 5s connect timeout and 10s total timeout per call by default
//   - a 2xx reply resolves to its raw body; anything else is a *RemoteCallError
//   - calls run on a bounded pool (semaphore) sized independently of inbound capacity
//   - no retries; failover and fan-out policy belong to the caller
//
// Example:
//
//	ch := cluster.NewChannel(cluster.DefaultChannelConfig(), log, m)
//	defer ch.Close(ctx)
//
//	f := ch.PostAsync(ctx, node.Addr, cluster.PathTransfer, form)
//	body, err := f.Wait()
//	if cluster.IsNotFound(err) {
//	    // authoritative "no such account"
//	}
//
// Close drains in-flight calls and cancels whatever remains once its context
// expires, so the coordinator can stop inbound first and outbound second.
package cluster
