// Package signal is the event bus of the storage core.
//
// Emit persists a change notification through the log, then calls every
// matching subscriber before returning. Subscribers either tail live
// signals or replay the durable history from a cursor and then continue
// live. A recent window of signals is kept in memory so a replaying
// subscriber can join live dispatch without rescanning the log.
//
// Usage:
//
//	bus := signal.New(log, signal.WithLogger(logger))
//	sub, err := bus.Subscribe(ctx, signal.ForKind(signal.ValueChanged), func(s signal.Signal) error {
//		fmt.Println(s.NodeID, value.Format(s.Value))
//		return nil
//	}, signal.Replay(1))
//	seq, err := bus.Emit(ctx, signal.ValueChanged, "a", value.Int(1))
package signal
