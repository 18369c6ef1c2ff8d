//go:build !rp2040 && !rp2350

package clock

import (
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarrelay-go/errcode"
)

func TestHTTPTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Date", "Sun, 01 Jun 2025 18:00:00 GMT")
	}))
	defer srv.Close()

	got, err := HTTPTime(srv.Client(), srv.URL)(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)))
}

// sntpServer answers SNTP queries as a stratum 1 server whose clock reads
// at. It returns the listen address.
func sntpServer(t *testing.T, at time.Time, reply bool) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	go func() {
		req := make([]byte, 48)
		for {
			n, addr, err := pc.ReadFrom(req)
			if err != nil {
				return
			}
			if n < 48 || !reply {
				continue
			}
			resp := make([]byte, 48)
			resp[0] = 4<<3 | 4 // version 4, server mode
			resp[1] = 1
			copy(resp[12:16], "GPS\x00")
			putNTPTime(resp[16:24], at)
			copy(resp[24:32], req[40:48])
			putNTPTime(resp[32:40], at)
			putNTPTime(resp[40:48], at)
			_, _ = pc.WriteTo(resp, addr)
		}
	}()
	return pc.LocalAddr().String()
}

func putNTPTime(b []byte, t time.Time) {
	const unixToNTP = 2208988800
	binary.BigEndian.PutUint32(b[0:4], uint32(t.Unix()+unixToNTP))
	binary.BigEndian.PutUint32(b[4:8], uint32((uint64(t.Nanosecond())<<32)/1e9))
}

func TestNTPTime(t *testing.T) {
	want := time.Now().Add(3 * time.Hour).UTC()
	addr := sntpServer(t, want, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := NTPTime(addr)(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, want, got, time.Second)
	assert.Equal(t, time.UTC, got.Location())
}

func TestNTPTime_NoAnswerIsUnsynchronized(t *testing.T) {
	addr := sntpServer(t, time.Now(), false)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := NTPTime(addr)(ctx)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.TimeNotSynchronized), "err %v", err)
}
