package mediasink

import (
	"bytes"
	"mime"
	"strings"
)

// Container identifies the media container carried by a buffer.
type Container int

const (
	// ContainerUnknown is an unrecognised container.
	ContainerUnknown Container = iota
	// ContainerMP4 is fragmented MP4 (CMAF-style).
	ContainerMP4
	// ContainerWebM is WebM (Matroska/EBML).
	ContainerWebM
	// ContainerMPEGTS is an MPEG transport stream.
	ContainerMPEGTS
)

func (c Container) String() string {
	switch c {
	case ContainerMP4:
		return "mp4"
	case ContainerWebM:
		return "webm"
	case ContainerMPEGTS:
		return "mpegts"
	default:
		return "unknown"
	}
}

// MimeType returns the canonical content type for the container.
func (c Container) MimeType() string {
	switch c {
	case ContainerMP4:
		return "video/mp4"
	case ContainerWebM:
		return "video/webm"
	case ContainerMPEGTS:
		return "video/MP2T"
	default:
		return "application/octet-stream"
	}
}

// ParseMimeType maps a content type (with optional codec parameters, e.g.
// `video/mp4; codecs="avc1.64001f,mp4a.40.2"`) to a container.
func ParseMimeType(mimeType string) (Container, error) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ContainerUnknown, newError(ErrorCodeNotSupported, "parse-mime", mimeType)
	}

	switch strings.ToLower(mediaType) {
	case "video/mp4", "audio/mp4":
		return ContainerMP4, nil
	case "video/webm", "audio/webm":
		return ContainerWebM, nil
	case "video/mp2t":
		return ContainerMPEGTS, nil
	default:
		return ContainerUnknown, newError(ErrorCodeNotSupported, "parse-mime", mimeType)
	}
}

// IsFormatSupported reports whether the sink can accept buffers of the
// given content type.
func IsFormatSupported(mimeType string) bool {
	_, err := ParseMimeType(mimeType)
	return err == nil
}

// MPEG-TS framing constants.
const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
)

// ebmlMagic is the EBML header that opens WebM/Matroska files.
var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// DetectContainer sniffs the container format from the first bytes of a
// media payload. MP4 payloads open with an ftyp, styp or moof box, WebM
// with the EBML header, MPEG-TS with sync bytes on packet boundaries.
// Returns ContainerUnknown when no signature matches.
func DetectContainer(data []byte) Container {
	if len(data) >= 12 {
		switch string(data[4:8]) {
		case "ftyp", "styp", "moof":
			return ContainerMP4
		}
	}
	if len(data) >= 4 && bytes.Equal(data[:4], ebmlMagic) {
		return ContainerWebM
	}
	if len(data) >= tsPacketSize+1 &&
		data[0] == tsSyncByte && data[tsPacketSize] == tsSyncByte {
		return ContainerMPEGTS
	}
	return ContainerUnknown
}
