package classify

import "strings"

// threadPrefixes are the reply/forward markers seen across mail clients,
// localized variants included.
var (
	replyPrefixes   = []string{"re:", "aw:", "sv:", "antw:"}
	forwardPrefixes = []string{"fw:", "fwd:", "wg:", "tr:"}
)

// ThreadInfo describes where a message sits in its email thread.
type ThreadInfo struct {
	// Role is primary for a fresh subject, reply or forward otherwise.
	Role string
	// Depth counts stacked RE:/FW: prefixes ("RE: RE: FW: x" has depth 3).
	Depth int
	// CleanSubject is the subject with all markers stripped.
	CleanSubject string
}

// DetectThread computes thread role independently from classification. A
// reply or forward still gets pattern-classified when its current body
// segment carries new content; the role only records thread position.
func DetectThread(subject string) ThreadInfo {
	clean := strings.TrimSpace(subject)
	info := ThreadInfo{Role: "primary"}

	for {
		lower := strings.ToLower(clean)
		matched := false
		for _, p := range replyPrefixes {
			if strings.HasPrefix(lower, p) {
				if info.Role == "primary" {
					info.Role = "reply"
				}
				clean = strings.TrimSpace(clean[len(p):])
				info.Depth++
				matched = true
				break
			}
		}
		if !matched {
			for _, p := range forwardPrefixes {
				if strings.HasPrefix(lower, p) {
					// A forward marker anywhere makes the role
					// forward: forwarded carrier mail needs
					// different direction handling than a reply.
					info.Role = "forward"
					clean = strings.TrimSpace(clean[len(p):])
					info.Depth++
					matched = true
					break
				}
			}
		}
		if !matched {
			break
		}
	}

	info.CleanSubject = clean
	return info
}

// quoteMarkers introduce quoted history inside a body segment.
var quoteMarkers = []string{
	"-----original message-----",
	"---------- forwarded message ----------",
	"________________________________",
}

// HasNewContent reports whether the current body segment (above any quoted
// history) still carries content worth classifying. Replies that only quote
// the original must not be re-treated as a new primary document.
func HasNewContent(body string) bool {
	segment := body
	lower := strings.ToLower(body)
	for _, marker := range quoteMarkers {
		if idx := strings.Index(lower, marker); idx >= 0 && idx < len(segment) {
			segment = segment[:idx]
			lower = lower[:idx]
		}
	}
	if idx := strings.Index(lower, "wrote:"); idx >= 0 {
		// "On <date>, <sender> wrote:" starts the quote; cut at that line.
		if lineStart := strings.LastIndex(segment[:idx], "\n"); lineStart >= 0 {
			segment = segment[:lineStart]
		} else {
			segment = ""
		}
	}

	for _, line := range strings.Split(segment, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ">") {
			continue
		}
		return true
	}
	return false
}
