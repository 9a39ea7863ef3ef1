package drm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"talkgrab"
)

const clearHLSMaster = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
720p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=854x480
480p.m3u8
`

const sampleAESPlaylist = `#EXTM3U
#EXT-X-SESSION-KEY:METHOD=SAMPLE-AES,URI="skd://key",KEYFORMAT="com.apple.streamingkeydelivery"
#EXT-X-STREAM-INF:BANDWIDTH=2500000
720p.m3u8
`

const aes128Playlist = `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="https://conf.example.com/key"
#EXTINF:6.0,
segment0.ts
`

const dashProtected = `<?xml version="1.0"?>
<MPD>
  <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/>
</MPD>
`

func evidenceWithManifest(url, body string) talkgrab.CaptureEvidence {
	return talkgrab.CaptureEvidence{
		Requests:       []talkgrab.NetworkRequest{{URL: url, ContentType: "application/vnd.apple.mpegurl"}},
		ManifestURLs:   []string{url},
		ManifestBodies: map[string]string{url: body},
	}
}

func TestClassifyLicenseServerWinsFirst(t *testing.T) {
	evidence := evidenceWithManifest("https://cdn.example.com/master.m3u8", clearHLSMaster)
	evidence.Requests = append(evidence.Requests, talkgrab.NetworkRequest{
		URL: "https://license.example.com/widevine/getlicense",
	})

	verdict := Classify(evidence)
	assert.Equal(t, talkgrab.VerdictProtected, verdict.Verdict)
	assert.Contains(t, verdict.Evidence, "license.example.com")
}

func TestClassifyManifestMarkers(t *testing.T) {
	for _, tc := range []struct {
		name    string
		body    string
		verdict talkgrab.Verdict
	}{
		{"clear master", clearHLSMaster, talkgrab.VerdictClear},
		{"sample-aes session key", sampleAESPlaylist, talkgrab.VerdictProtected},
		{"plain aes-128 is not drm", aes128Playlist, talkgrab.VerdictClear},
		{"dash widevine pssh", dashProtected, talkgrab.VerdictProtected},
	} {
		t.Run(tc.name, func(t *testing.T) {
			verdict := Classify(evidenceWithManifest("https://cdn.example.com/master.m3u8", tc.body))
			assert.Equal(t, tc.verdict, verdict.Verdict)
			assert.NotEmpty(t, verdict.Evidence)
		})
	}
}

func TestClassifyManifestWithoutBodyIsClear(t *testing.T) {
	evidence := talkgrab.CaptureEvidence{
		ManifestURLs: []string{"https://cdn.example.com/master.m3u8"},
	}
	verdict := Classify(evidence)
	assert.Equal(t, talkgrab.VerdictClear, verdict.Verdict)
}

func TestClassifyNoManifestIsUnknown(t *testing.T) {
	evidence := talkgrab.CaptureEvidence{
		Requests: []talkgrab.NetworkRequest{
			{URL: "https://conf.example.com/player.js", ContentType: "text/javascript"},
		},
	}
	verdict := Classify(evidence)
	assert.Equal(t, talkgrab.VerdictUnknown, verdict.Verdict)
}

func TestClassifyDeterministic(t *testing.T) {
	evidence := evidenceWithManifest("https://cdn.example.com/master.m3u8", sampleAESPlaylist)
	first := Classify(evidence)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(evidence))
	}
}
