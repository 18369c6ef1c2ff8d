//go:build !rp2040 && !rp2350

package clock

import (
	"context"
	"net/http"
	"time"

	"github.com/beevik/ntp"

	"solarrelay-go/errcode"
)

// NTPTime queries an SNTP server given as host or host:port. The query
// timeout is the ctx deadline, else 5 s.
func NTPTime(server string) NetworkTime {
	return func(ctx context.Context) (time.Time, error) {
		opts := ntp.QueryOptions{Timeout: 5 * time.Second}
		if dl, ok := ctx.Deadline(); ok {
			opts.Timeout = time.Until(dl)
		}
		if opts.Timeout <= 0 {
			return time.Time{}, errcode.Wrap(errcode.TimeNotSynchronized, "clock.ntp", context.DeadlineExceeded)
		}
		resp, err := ntp.QueryWithOptions(server, opts)
		if err != nil {
			return time.Time{}, errcode.Wrap(errcode.TimeNotSynchronized, "clock.ntp", err)
		}
		if err := resp.Validate(); err != nil {
			return time.Time{}, errcode.Wrap(errcode.TimeNotSynchronized, "clock.ntp", err)
		}
		return time.Now().Add(resp.ClockOffset).UTC(), nil
	}
}

// HTTPTime reads the Date header of a HEAD request to url. Second
// resolution is enough for the sleep window.
func HTTPTime(client *http.Client, url string) NetworkTime {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (time.Time, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return time.Time{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return time.Time{}, errcode.Wrap(errcode.TimeNotSynchronized, "clock.http", err)
		}
		resp.Body.Close()
		t, err := http.ParseTime(resp.Header.Get("Date"))
		if err != nil {
			return time.Time{}, errcode.Wrap(errcode.TimeNotSynchronized, "clock.http", err)
		}
		return t.UTC(), nil
	}
}
