// Package timesync keeps a wall clock synchronised from an NTP server and
// converts it to the deployment's local time.
package timesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// defaultQueryTimeout bounds an exchange when ctx carries no deadline.
const defaultQueryTimeout = 5 * time.Second

// Errors returned by Query for unusable replies.
var (
	ErrKissOfDeath = errors.New("server sent kiss-o'-death")
	ErrBadReply    = errors.New("unusable NTP reply")
)

// Result is one SNTP exchange.
type Result struct {
	Time    time.Time     // corrected time at the moment the reply arrived
	Offset  time.Duration // server minus local
	RTT     time.Duration
	Stratum int
}

// Query performs a single SNTP client exchange with server, which may be a
// host or host:port. The exchange is bounded by ctx's deadline.
func Query(ctx context.Context, server string) (Result, error) {
	timeout := defaultQueryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if timeout <= 0 {
		return Result{}, context.DeadlineExceeded
	}

	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return Result{}, fmt.Errorf("query %s: %w", server, err)
	}
	return fromResponse(resp, time.Now())
}

// fromResponse validates resp and converts it into a Result anchored at
// received.
func fromResponse(resp *ntp.Response, received time.Time) (Result, error) {
	if resp.Stratum == 0 {
		return Result{}, fmt.Errorf("%w: code %q", ErrKissOfDeath, resp.KissCode)
	}
	if err := resp.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	return Result{
		Time:    received.Add(resp.ClockOffset),
		Offset:  resp.ClockOffset,
		RTT:     resp.RTT,
		Stratum: int(resp.Stratum),
	}, nil
}
