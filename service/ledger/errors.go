package ledger

import "errors"

// ErrUpstreamUnavailable indicates a transport or HTTP failure talking to
// the ledger feed. The ingestion pipeline treats it as retryable at the
// cycle level, never as fatal.
var ErrUpstreamUnavailable = errors.New("ledger upstream unavailable")
