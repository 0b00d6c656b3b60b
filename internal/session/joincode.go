package session

import (
	"math/rand"
	"strconv"
	"time"
)

// The 0 glyph is dropped from the alphabet, it reads like an O.
const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ123456789"

const (
	JoinCodeLength  = 8
	maxCodeAttempts = 5
)

var randIntn = rand.Intn

func randomJoinCode() string {
	b := make([]byte, JoinCodeLength)
	for i := range b {
		b[i] = joinCodeAlphabet[randIntn(len(joinCodeAlphabet))]
	}
	return string(b)
}

// timestampFallback yields the last eight digits of the current millisecond
// timestamp. Distinct enough when five random draws all collided, but it
// breaks the alphabet uniformity, so callers log when they reach for it.
func timestampFallback(now time.Time) string {
	digits := strconv.FormatInt(now.UnixMilli(), 10)
	if len(digits) <= JoinCodeLength {
		return digits
	}
	return digits[len(digits)-JoinCodeLength:]
}
