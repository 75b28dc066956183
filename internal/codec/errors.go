package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Reason categorizes codec failures.
type Reason string

const (
	ReasonTruncated   Reason = "TRUNCATED"
	ReasonMagic       Reason = "BAD_MAGIC"
	ReasonVersion     Reason = "UNSUPPORTED_VERSION"
	ReasonLength      Reason = "LENGTH_MISMATCH"
	ReasonBounds      Reason = "OUT_OF_BOUNDS"
	ReasonTag         Reason = "BAD_TAG"
	ReasonFlags       Reason = "BAD_FLAGS"
	ReasonUnknownName Reason = "UNKNOWN_NAME"
	ReasonDepth       Reason = "DEPTH_EXCEEDED"
	ReasonCount       Reason = "COUNT_MISMATCH"
	ReasonUTF8        Reason = "INVALID_UTF8"
	ReasonNilValue    Reason = "NIL_VALUE"
	ReasonTooLarge    Reason = "TOO_LARGE"
)

// DecodeError reports a malformed, truncated or version-mismatched buffer.
type DecodeError struct {
	Reason Reason
	// Offset is the byte position where decoding failed.
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("codec: decode: %s at offset %d: %s", e.Reason, e.Offset, e.Detail)
	}
	return fmt.Sprintf("codec: decode: %s at offset %d", e.Reason, e.Offset)
}

// EncodeError reports a value outside the encodable domain.
type EncodeError struct {
	Reason Reason
	// Path locates the offending value, e.g. "$.z[2]".
	Path   string
	Detail string
}

func (e *EncodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("codec: encode: %s at %s: %s", e.Reason, e.Path, e.Detail)
	}
	return fmt.Sprintf("codec: encode: %s at %s", e.Reason, e.Path)
}

// IsDecodeError returns true if err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// DecodeReason returns the reason of a wrapped *DecodeError, or "".
func DecodeReason(err error) Reason {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

func decodeErr(reason Reason, offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Reason: reason, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// pathString renders a stack of path segments built during validation.
func pathString(segs []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, s := range segs {
		b.WriteString(s)
	}
	return b.String()
}
