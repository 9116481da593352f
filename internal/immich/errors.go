package immich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	ErrNotConfigured = errors.New("immich server URL not configured")
	ErrUnreachable   = errors.New("cannot connect to immich server")
	ErrTimeout       = errors.New("immich server did not respond in time")
)

// RelayError is returned when the Immich server responds to an upload
// with a non-2xx status. Body holds the servers response, verbatim if it
// was JSON, or as a JSON string otherwise.
type RelayError struct {
	Status int
	Body   json.RawMessage
}

func (err *RelayError) Error() string {
	return fmt.Sprintf("immich server rejected upload with status %d: %s", err.Status, string(err.Body))
}

// classifyTransportError converts an error returned by the HTTP client in to
// one of the sentinel relay errors where possible. The original error
// remains in the chain.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.Is(err, syscall.ECONNREFUSED) || errors.As(err, &dnsErr) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	return fmt.Errorf("immich request failed: %w", err)
}

// normalizeBody ensures the body can be embedded in a JSON response as-is.
func normalizeBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}

	quoted, _ := json.Marshal(string(body))
	return quoted
}
