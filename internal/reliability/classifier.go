package reliability

import "time"

// IsFatalRealtimeErrorCode classifies upstream error frames that should end
// the connection. Everything else is surfaced as a warning and the stream
// keeps going.
func IsFatalRealtimeErrorCode(code string) bool {
	switch code {
	case "auth_failed", "session_expired", "unsupported_protocol", "settings_rejected", "internal":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration for
// callers that reconnect with a fresh start; the client itself never retries.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
