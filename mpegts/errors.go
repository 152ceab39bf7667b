package mpegts

import "errors"

// Errors returned by the codec. They are always wrapped with context, so
// callers should match them with errors.Is.
var (
	ErrSize                     = errors.New("mpegts: packet size")
	ErrBufferTooSmall           = errors.New("mpegts: destination buffer too small")
	ErrSync                     = errors.New("mpegts: invalid sync byte")
	ErrRange                    = errors.New("mpegts: field out of range")
	ErrTruncatedAdaptationField = errors.New("mpegts: truncated adaptation field")
	ErrInvalidState             = errors.New("mpegts: invalid state")
)
