// Package codec provides a registry of the video and audio codecs
// vodarr can encode. It resolves codec names, aliases and FFmpeg
// encoder names to canonical codecs, maps each codec to its software
// encoder, and knows which container formats a codec can live in.
package codec

import (
	"sort"
	"strings"
)

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264 Video = "h264" // H.264/AVC
	VideoH265 Video = "h265" // H.265/HEVC
	VideoVP8  Video = "vp8"  // VP8 (WebM only)
	VideoVP9  Video = "vp9"  // VP9
	VideoAV1  Video = "av1"  // AV1
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC    Audio = "aac"    // AAC
	AudioMP3    Audio = "mp3"    // MP3
	AudioOpus   Audio = "opus"   // Opus
	AudioVorbis Audio = "vorbis" // Vorbis (WebM only)
	AudioAC3    Audio = "ac3"    // Dolby Digital (AC-3)
	AudioFLAC   Audio = "flac"   // FLAC
)

// Container names as the engine and media sink use them.
const (
	containerMP4    = "mp4"
	containerWebM   = "webm"
	containerMPEGTS = "mpegts"
)

// String returns the canonical codec name.
func (v Video) String() string {
	return string(v)
}

// String returns the canonical codec name.
func (a Audio) String() string {
	return string(a)
}

// videoInfo describes one video codec.
type videoInfo struct {
	// All known aliases and encoder names that map to this codec.
	Aliases []string
	// Software encoder passed to FFmpeg.
	Encoder string
	// Containers the codec can be muxed into.
	Containers []string
}

// audioInfo describes one audio codec.
type audioInfo struct {
	Aliases    []string
	Encoder    string
	Containers []string
}

var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Aliases: []string{
			"h264", "avc", "avc1", "h.264",
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi", "h264_videotoolbox",
		},
		Encoder:    "libx264",
		Containers: []string{containerMP4, containerMPEGTS},
	},
	VideoH265: {
		Aliases: []string{
			"h265", "hevc", "hev1", "hvc1", "h.265",
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi", "hevc_videotoolbox",
		},
		Encoder:    "libx265",
		Containers: []string{containerMP4, containerMPEGTS},
	},
	VideoVP8: {
		Aliases:    []string{"vp8", "libvpx"},
		Encoder:    "libvpx",
		Containers: []string{containerWebM},
	},
	VideoVP9: {
		Aliases:    []string{"vp9", "vp09", "libvpx-vp9", "vp9_qsv", "vp9_vaapi"},
		Encoder:    "libvpx-vp9",
		Containers: []string{containerWebM, containerMP4},
	},
	VideoAV1: {
		Aliases: []string{
			"av1", "av01",
			"libaom-av1", "libsvtav1", "librav1e", "av1_nvenc", "av1_qsv", "av1_vaapi",
		},
		Encoder:    "libaom-av1",
		Containers: []string{containerMP4, containerWebM},
	},
}

var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Aliases:    []string{"aac", "mp4a", "libfdk_aac", "aac_at"},
		Encoder:    "aac",
		Containers: []string{containerMP4, containerMPEGTS},
	},
	AudioMP3: {
		Aliases:    []string{"mp3", "libmp3lame", "mp3float"},
		Encoder:    "libmp3lame",
		Containers: []string{containerMP4, containerMPEGTS},
	},
	AudioOpus: {
		Aliases:    []string{"opus", "libopus"},
		Encoder:    "libopus",
		Containers: []string{containerWebM, containerMP4},
	},
	AudioVorbis: {
		Aliases:    []string{"vorbis", "libvorbis"},
		Encoder:    "libvorbis",
		Containers: []string{containerWebM},
	},
	AudioAC3: {
		Aliases:    []string{"ac3", "ac-3"},
		Encoder:    "ac3",
		Containers: []string{containerMP4, containerMPEGTS},
	},
	AudioFLAC: {
		Aliases:    []string{"flac"},
		Encoder:    "flac",
		Containers: []string{containerMP4},
	},
}

// videoAliasIndex maps all aliases to their canonical codec.
var videoAliasIndex map[string]Video

// audioAliasIndex maps all aliases to their canonical codec.
var audioAliasIndex map[string]Audio

func init() {
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = codec
		}
	}

	audioAliasIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = codec
		}
	}
}

// ParseVideo resolves a codec name, alias or encoder name to a Video
// codec. It reports false for names outside the registry.
func ParseVideo(s string) (Video, bool) {
	v, ok := videoAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// ParseAudio resolves a codec name, alias or encoder name to an Audio
// codec. It reports false for names outside the registry.
func ParseAudio(s string) (Audio, bool) {
	a, ok := audioAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// Encoder returns the FFmpeg software encoder for the codec, or the
// codec name itself when the codec is not registered.
func (v Video) Encoder() string {
	if info, ok := videoRegistry[v]; ok {
		return info.Encoder
	}
	return string(v)
}

// Encoder returns the FFmpeg software encoder for the codec, or the
// codec name itself when the codec is not registered.
func (a Audio) Encoder() string {
	if info, ok := audioRegistry[a]; ok {
		return info.Encoder
	}
	return string(a)
}

// SupportsContainer reports whether the codec can be muxed into the
// named container ("mp4", "webm" or "mpegts").
func (v Video) SupportsContainer(container string) bool {
	info, ok := videoRegistry[v]
	if !ok {
		return false
	}
	for _, c := range info.Containers {
		if c == container {
			return true
		}
	}
	return false
}

// SupportsContainer reports whether the codec can be muxed into the
// named container ("mp4", "webm" or "mpegts").
func (a Audio) SupportsContainer(container string) bool {
	info, ok := audioRegistry[a]
	if !ok {
		return false
	}
	for _, c := range info.Containers {
		if c == container {
			return true
		}
	}
	return false
}

// SupportedVideoCodecs returns the canonical names of all encodable
// video codecs, for validation messages.
func SupportedVideoCodecs() []string {
	names := make([]string, 0, len(videoRegistry))
	for codec := range videoRegistry {
		names = append(names, string(codec))
	}
	sort.Strings(names)
	return names
}

// SupportedAudioCodecs returns the canonical names of all encodable
// audio codecs, for validation messages.
func SupportedAudioCodecs() []string {
	names := make([]string, 0, len(audioRegistry))
	for codec := range audioRegistry {
		names = append(names, string(codec))
	}
	sort.Strings(names)
	return names
}
