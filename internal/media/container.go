package media

import "strings"

// Containers the downstream decoder can open. Anything else is a
// content-level failure, not worth retrying.
var supportedContainers = map[string]bool{
	"mp4":  true,
	"m4v":  true,
	"mov":  true,
	"webm": true,
	"hls":  true,
	"m3u8": true,
}

// SupportedContainer reports whether the decoder can handle the named
// container format.
func SupportedContainer(name string) bool {
	return supportedContainers[strings.ToLower(strings.TrimSpace(name))]
}
