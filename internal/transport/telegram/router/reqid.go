package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short request id: base36 timestamp, sequence and two
// random characters.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	b.WriteString(strconv.FormatInt(time.Now().UnixNano(), 36))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(ridSeq.Add(1), 36))
	for range 2 {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}
