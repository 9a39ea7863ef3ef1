package talkgrab

// A NetworkRequest is one observed exchange during a capture session.
type NetworkRequest struct {
	URL         string
	ContentType string
	Size        int64
}

// CaptureEvidence is everything the manifest capture agent observed for
// one task. It is transient: held only long enough to classify.
type CaptureEvidence struct {
	PageTitle string
	// Requests in observation order.
	Requests []NetworkRequest
	// ManifestURLs are the candidate HLS/DASH manifests, in observation
	// order.
	ManifestURLs []string
	// ManifestBodies maps a manifest URL to its response body, where the
	// body could be recovered from the browser session.
	ManifestBodies map[string]string
}

func (e CaptureEvidence) HasManifest() bool { return len(e.ManifestURLs) > 0 }

type Verdict string

const (
	VerdictClear     Verdict = "clear"
	VerdictProtected Verdict = "protected"
	VerdictUnknown   Verdict = "unknown"
)

// A DrmVerdict is the classifier's conclusion plus the evidence snippet
// justifying it. Consumed once by the orchestrator to pick the next
// strategy.
type DrmVerdict struct {
	Verdict Verdict
	// Evidence names the signal that decided the verdict, e.g. a license
	// server hostname or an encryption marker.
	Evidence string
}
