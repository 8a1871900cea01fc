package client

// Device profile table. Entries are builders so every resolve hands out a
// fresh copy; the table itself is never mutated.

func h264Only(maxWidth, maxHeight int) map[string]VideoCapability {
	return map[string]VideoCapability{
		"h264": {MaxLevel: 40, MaxWidth: maxWidth, MaxHeight: maxHeight},
	}
}

func appleMobileProfile() *Capabilities {
	return &Capabilities{
		Device:   "apple-mobile",
		Platform: "ios",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 52, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "flac": true, "mp3": true},
		MaxAudioChannels: 6,
		HDR: HDRCapabilities{
			HDR10: true, HLG: true,
			DolbyVisionP5: true, DolbyVisionP8: true,
		},
		RangeReliability: RangeTrusted,
		Confidence:       0.9,
	}
}

func appleTVProfile() *Capabilities {
	return &Capabilities{
		Device:   "apple-tv",
		Platform: "tvos",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 52, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "flac": true, "mp3": true},
		MaxAudioChannels: 8,
		HDR: HDRCapabilities{
			HDR10: true, HLG: true,
			DolbyVisionP5: true, DolbyVisionP7: true, DolbyVisionP8: true,
		},
		RangeReliability: RangeTrusted,
		Confidence:       0.95,
	}
}

func fireTVProfile() *Capabilities {
	return &Capabilities{
		Device:   "fire-tv",
		Platform: "android",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
			"vp9":  {MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true, "opus": true},
		MaxAudioChannels: 6,
		HDR: HDRCapabilities{
			HDR10: true, HLG: true,
			DolbyVisionP8: true,
		},
		RangeReliability: RangeSuspect,
		Confidence:       0.85,
	}
}

func chromecastProfile() *Capabilities {
	return &Capabilities{
		Device:   "chromecast",
		Platform: "cast",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
			"vp9":  {MaxWidth: 3840, MaxHeight: 2160},
			"av1":  {MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true, "opus": true, "vorbis": true},
		MaxAudioChannels: 6,
		HDR: HDRCapabilities{
			HDR10: true, HLG: true,
			DolbyVisionP8: true,
		},
		RangeReliability: RangeUntrusted,
		Confidence:       0.85,
	}
}

func androidTVProfile() *Capabilities {
	return &Capabilities{
		Device:   "android-tv",
		Platform: "android",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
			"vp9":  {MaxWidth: 3840, MaxHeight: 2160},
			"av1":  {MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true, "opus": true},
		MaxAudioChannels: 8,
		HDR: HDRCapabilities{
			HDR10: true, HLG: true,
			DolbyVisionP8: true,
		},
		RangeReliability: RangeSuspect,
		Confidence:       0.8,
	}
}

func androidMobileProfile() *Capabilities {
	return &Capabilities{
		Device:   "android-mobile",
		Platform: "android",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 1920, MaxHeight: 1080},
			"h265": {MaxLevel: 123, MaxWidth: 1920, MaxHeight: 1080},
			"vp9":  {MaxWidth: 1920, MaxHeight: 1080},
		},
		AudioCodecs:      map[string]bool{"aac": true, "mp3": true, "opus": true, "flac": true},
		MaxAudioChannels: 2,
		HDR:              HDRCapabilities{HDR10: true, HLG: true},
		RangeReliability: RangeTrusted,
		Confidence:       0.8,
	}
}

func rokuProfile() *Capabilities {
	return &Capabilities{
		Device:   "roku",
		Platform: "roku",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
			"vp9":  {MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true},
		MaxAudioChannels: 6,
		HDR:              HDRCapabilities{HDR10: true, HLG: true},
		RangeReliability: RangeSuspect,
		Confidence:       0.85,
	}
}

func tizenProfile() *Capabilities {
	return &Capabilities{
		Device:   "samsung-tizen",
		Platform: "tizen",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
			"vp9":  {MaxWidth: 3840, MaxHeight: 2160},
			"av1":  {MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true},
		MaxAudioChannels: 6,
		// Samsung backs HDR10+ instead of Dolby Vision.
		HDR:              HDRCapabilities{HDR10: true, HLG: true},
		RangeReliability: RangeSuspect,
		Confidence:       0.8,
	}
}

func webOSProfile() *Capabilities {
	return &Capabilities{
		Device:   "lg-webos",
		Platform: "webos",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
			"vp9":  {MaxWidth: 3840, MaxHeight: 2160},
			"av1":  {MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true},
		MaxAudioChannels: 6,
		HDR: HDRCapabilities{
			HDR10: true, HLG: true,
			DolbyVisionP5: true, DolbyVisionP8: true,
		},
		RangeReliability: RangeSuspect,
		Confidence:       0.8,
	}
}

func consoleProfile() *Capabilities {
	return &Capabilities{
		Device:   "console",
		Platform: "console",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true},
		MaxAudioChannels: 8,
		HDR:              HDRCapabilities{HDR10: true},
		RangeReliability: RangeSuspect,
		Confidence:       0.75,
	}
}

func edgeProfile() *Capabilities {
	return &Capabilities{
		Device:   "edge",
		Platform: "desktop",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 52, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
			"vp8":  {},
			"vp9":  {},
			"av1":  {},
		},
		AudioCodecs:      map[string]bool{"aac": true, "mp3": true, "opus": true, "vorbis": true, "flac": true},
		MaxAudioChannels: 6,
		HDR:              HDRCapabilities{HDR10: true},
		RangeReliability: RangeTrusted,
		Confidence:       0.9,
	}
}

func chromeProfile() *Capabilities {
	return &Capabilities{
		Device:   "chrome",
		Platform: "desktop",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 52, MaxWidth: 3840, MaxHeight: 2160},
			"vp8":  {},
			"vp9":  {},
			"av1":  {},
		},
		AudioCodecs:      map[string]bool{"aac": true, "mp3": true, "opus": true, "vorbis": true, "flac": true},
		MaxAudioChannels: 2,
		HDR:              HDRCapabilities{},
		RangeReliability: RangeTrusted,
		Confidence:       0.9,
	}
}

func safariProfile() *Capabilities {
	return &Capabilities{
		Device:   "safari",
		Platform: "desktop",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 52, MaxWidth: 3840, MaxHeight: 2160},
			"h265": {MaxLevel: 153, MaxWidth: 3840, MaxHeight: 2160},
		},
		AudioCodecs:      map[string]bool{"aac": true, "ac3": true, "eac3": true, "mp3": true, "flac": true},
		MaxAudioChannels: 6,
		HDR:              HDRCapabilities{HDR10: true, HLG: true, DolbyVisionP5: true, DolbyVisionP8: true},
		RangeReliability: RangeTrusted,
		Confidence:       0.9,
	}
}

func firefoxProfile() *Capabilities {
	return &Capabilities{
		Device:   "firefox",
		Platform: "desktop",
		VideoCodecs: map[string]VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 1920, MaxHeight: 1080},
			"vp8":  {},
			"vp9":  {},
			"av1":  {},
		},
		AudioCodecs:      map[string]bool{"aac": true, "mp3": true, "opus": true, "vorbis": true, "flac": true},
		MaxAudioChannels: 2,
		HDR:              HDRCapabilities{},
		RangeReliability: RangeTrusted,
		Confidence:       0.85,
	}
}

// unknownProfile is the minimal fallback: baseline H.264 1080p with stereo
// AAC, served over HLS because range behavior is unknown.
func unknownProfile() *Capabilities {
	return &Capabilities{
		Device:           "unknown",
		Platform:         "unknown",
		VideoCodecs:      h264Only(1920, 1080),
		AudioCodecs:      map[string]bool{"aac": true, "mp3": true},
		MaxAudioChannels: 2,
		HDR:              HDRCapabilities{},
		RangeReliability: RangeUntrusted,
		Confidence:       0.3,
	}
}
