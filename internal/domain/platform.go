package domain

import "strings"

type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformTrovo   Platform = "trovo"
	PlatformGlimesh Platform = "glimesh"
)

var supportedPlatforms = []Platform{PlatformTwitch, PlatformYouTube, PlatformTrovo, PlatformGlimesh}

func SupportedPlatforms() []Platform {
	return append([]Platform(nil), supportedPlatforms...)
}

func ParsePlatform(value string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range supportedPlatforms {
		if p == known {
			return p, true
		}
	}
	return "", false
}

func (p Platform) String() string {
	return string(p)
}
