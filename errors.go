package ppdbg

import (
	"errors"
	"fmt"
)

var (
	ErrDiscoveryFailed    = errors.New("no debugging target discovered")
	ErrConnectionRefused  = errors.New("connection refused")
	ErrConnectionTimeout  = errors.New("connection timed out")
	ErrInvalidState       = errors.New("invalid connection state")
	ErrNotConnected       = errors.New("not connected")
	ErrProtocol           = errors.New("protocol error")
	ErrConnectionLost     = errors.New("connection lost")
	ErrRemote             = errors.New("remote error")
	ErrIncompatibleServer = errors.New("incompatible server")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrClosed             = errors.New("client closed")
)

// RemoteError is a failure the target reported for one request.
type RemoteError struct {
	Topic string
	ErrObj
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Topic, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Topic, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// remoteError extracts the error indicator of a reply, if any.
func remoteError(msg Message) (*RemoteError, bool) {
	raw, ok := msg[ErrorField]
	if !ok || raw == nil {
		return nil, false
	}
	re := &RemoteError{Topic: msg.Topic()}
	switch v := raw.(type) {
	case string:
		re.Message = v
	case map[string]any:
		re.Code, _ = v["code"].(string)
		re.Message, _ = v["message"].(string)
	case bool:
		if !v {
			return nil, false
		}
		// Some replies flag the error and put the text in "message".
		re.Message, _ = msg["message"].(string)
	default:
		re.Message = fmt.Sprint(v)
	}
	if re.Message == "" {
		re.Message = "request failed"
	}
	return re, true
}
