package mediasink

import (
	"bytes"
	"testing"
)

func TestParseMimeType(t *testing.T) {
	tests := []struct {
		mime    string
		want    Container
		wantErr bool
	}{
		{"video/mp4", ContainerMP4, false},
		{`video/mp4; codecs="avc1.64001f,mp4a.40.2"`, ContainerMP4, false},
		{"audio/mp4", ContainerMP4, false},
		{"video/webm", ContainerWebM, false},
		{`video/webm; codecs="vp9,opus"`, ContainerWebM, false},
		{"video/MP2T", ContainerMPEGTS, false},
		{"video/mp2t", ContainerMPEGTS, false},
		{"video/x-flv", ContainerUnknown, true},
		{"application/octet-stream", ContainerUnknown, true},
		{"not a mime type at all;;;", ContainerUnknown, true},
		{"", ContainerUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, err := ParseMimeType(tt.mime)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMimeType(%q) error = %v, wantErr %v", tt.mime, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMimeType(%q) = %v, want %v", tt.mime, got, tt.want)
			}
			if tt.wantErr && !IsNotSupported(err) {
				t.Errorf("unsupported mime should classify as not-supported, got %v", CodeOf(err))
			}
		})
	}
}

func TestIsFormatSupported(t *testing.T) {
	if !IsFormatSupported(`video/mp4; codecs="avc1.64001f"`) {
		t.Error("fMP4 should be supported")
	}
	if !IsFormatSupported("video/webm") {
		t.Error("WebM should be supported")
	}
	if !IsFormatSupported("video/MP2T") {
		t.Error("MPEG-TS should be supported")
	}
	if IsFormatSupported("video/x-matroska") {
		t.Error("Matroska should not be supported")
	}
}

func TestDetectContainer(t *testing.T) {
	ftyp := append([]byte{0x00, 0x00, 0x00, 0x20}, []byte("ftypisom")...)
	ftyp = append(ftyp, make([]byte, 16)...)

	moof := append([]byte{0x00, 0x00, 0x02, 0x10}, []byte("moofmfhd")...)
	moof = append(moof, make([]byte, 16)...)

	webm := append(append([]byte{}, ebmlMagic...), make([]byte, 32)...)

	ts := make([]byte, tsPacketSize*2)
	ts[0] = tsSyncByte
	ts[tsPacketSize] = tsSyncByte

	tests := []struct {
		name string
		data []byte
		want Container
	}{
		{"fmp4", ftyp, ContainerMP4},
		{"fmp4 fragment", moof, ContainerMP4},
		{"webm", webm, ContainerWebM},
		{"mpegts", ts, ContainerMPEGTS},
		{"empty", nil, ContainerUnknown},
		{"short", []byte{0x47}, ContainerUnknown},
		{"garbage", bytes.Repeat([]byte{0xAB}, 512), ContainerUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectContainer(tt.data); got != tt.want {
				t.Errorf("DetectContainer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContainer_Strings(t *testing.T) {
	if ContainerMP4.String() != "mp4" || ContainerMP4.MimeType() != "video/mp4" {
		t.Error("unexpected mp4 container strings")
	}
	if ContainerWebM.String() != "webm" || ContainerWebM.MimeType() != "video/webm" {
		t.Error("unexpected webm container strings")
	}
	if ContainerMPEGTS.String() != "mpegts" || ContainerMPEGTS.MimeType() != "video/MP2T" {
		t.Error("unexpected mpegts container strings")
	}
	if ContainerUnknown.String() != "unknown" {
		t.Error("unexpected unknown container string")
	}
}

func TestErrorCode_String(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrorCodeQuotaExceeded, "quota-exceeded"},
		{ErrorCodeInvalidState, "invalid-state"},
		{ErrorCodeNotSupported, "not-supported"},
		{ErrorCodeUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCodeOf_ForeignError(t *testing.T) {
	if got := CodeOf(bytes.ErrTooLarge); got != ErrorCodeUnknown {
		t.Errorf("foreign errors should classify unknown, got %v", got)
	}
}
