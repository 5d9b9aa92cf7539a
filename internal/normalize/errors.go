package normalize

import "fmt"

// ProtocolError 表示服务端给出了响应，但状态码或内容不符合预期。
type ProtocolError struct {
	StatusCode int // 0 when the status was fine but the body could not be decoded
	Message    string
	Cause      error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

const (
	MsgUnauthorized   = "authentication failed"
	MsgNotFound       = "API path does not exist"
	MsgInvalidFormat  = "invalid response format"
	msgServerErrorFmt = "server error: %d"
	msgUnexpectedFmt  = "unexpected response: %d"
)

// StatusError maps a non-success HTTP status to a ProtocolError.
func StatusError(code int) *ProtocolError {
	switch {
	case code == 401:
		return &ProtocolError{StatusCode: code, Message: MsgUnauthorized}
	case code == 404:
		return &ProtocolError{StatusCode: code, Message: MsgNotFound}
	case code >= 500 && code <= 599:
		return &ProtocolError{StatusCode: code, Message: fmt.Sprintf(msgServerErrorFmt, code)}
	default:
		return &ProtocolError{StatusCode: code, Message: fmt.Sprintf(msgUnexpectedFmt, code)}
	}
}

func formatError(err error) *ProtocolError {
	return &ProtocolError{Message: MsgInvalidFormat, Cause: err}
}
