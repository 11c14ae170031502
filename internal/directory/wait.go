package directory

import (
	"context"
	"encoding/json"
	"time"
)

// Wait blocks until addr changes or timeoutMs elapses (0 = infinite),
// returning (timedOut, value), per spec.md §4.2 and §5's cancellation
// semantics: the pending callback is de-registered either way.
func (d *Directory) Wait(ctx context.Context, addr string, timeoutMs int) (timedOut bool, value json.RawMessage, err error) {
	ch := make(chan waitResult, 1)

	d.waitersMu.Lock()
	d.waiters[addr] = append(d.waiters[addr], ch)
	d.waitersMu.Unlock()

	defer d.deregister(addr, ch)

	var timer *time.Timer
	var timerCh <-chan time.Time
	if timeoutMs > 0 {
		timer = time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timerCh = timer.C
	}

	select {
	case res := <-ch:
		return res.timedOut, res.value, nil
	case <-timerCh:
		rec, _ := d.Get(ctx, addr, true)
		var cached json.RawMessage
		if rec != nil {
			cached = rec.Value
		}
		return true, cached, nil
	case <-ctx.Done():
		return false, nil, ctx.Err()
	}
}

func (d *Directory) deregister(addr string, ch chan waitResult) {
	d.waitersMu.Lock()
	defer d.waitersMu.Unlock()

	subs := d.waiters[addr]
	for i, c := range subs {
		if c == ch {
			d.waiters[addr] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(d.waiters[addr]) == 0 {
		delete(d.waiters, addr)
	}
}

// notify wakes every waiter registered on addr with value, delivering a
// (timedOut=false) result. A nil value means the variable was deleted.
func (d *Directory) notify(addr string, value json.RawMessage) {
	d.waitersMu.Lock()
	subs := d.waiters[addr]
	d.waiters[addr] = nil
	d.waitersMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- waitResult{timedOut: false, value: value}:
		default:
		}
	}
}

// Notify is the external entry point Watcher calls when a peer's journal
// entry or a synclog event reports a change to addr, per spec.md §4.4.
func (d *Directory) Notify(ctx context.Context, addr string, value json.RawMessage) {
	if value == nil {
		d.cache.Unset(ctx, addr)
	}
	d.notify(addr, value)
}
