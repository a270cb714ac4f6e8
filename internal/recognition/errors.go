package recognition

import "fmt"

// PermissionError means the OS refused microphone access.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone permission denied: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// AuthError covers token fetch failures and backend credential
// rejections.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("recognition auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError covers handshake timeouts and unexpected closes.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("recognition connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError marks a malformed server event. Logged and skipped,
// never fatal to the session.
type ProtocolError struct {
	Payload []byte
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed recognition event: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
