package tracker

import (
	"regexp"
	"strings"
	"time"
)

// SiteID keys extraction modules. It is derived from the first two host labels of a URL.
type SiteID string

var (
	archivePrefix    = regexp.MustCompile(`^https?://web\.archive\.org/web/(\d+)[a-z_]*/(.+)$`)
	embeddedURL      = regexp.MustCompile(`^https?://.*(https?://.*)$`)
	captureTimestamp = regexp.MustCompile(`/web/(\d{4,14})`)
	defaultHTTPPort  = regexp.MustCompile(`:80(/|$)`)
)

const (
	archiveTimestampLayout = "20060102150405"
	timestampPadding       = "0101000000"
)

// SiteIDFromURL derives the SiteID for a live or archived URL.
// Archive wrappers and ports are ignored so every snapshot of a site maps to the same key. A leading
// "www" label is kept: www.bgsu.edu keys as www_bgsu, as stored rules and datasets expect.
func SiteIDFromURL(rawURL string) SiteID {
	target := strings.TrimSpace(rawURL)
	if m := embeddedURL.FindStringSubmatch(target); m != nil {
		target = m[1]
	}
	target = strings.TrimPrefix(target, "https://")
	target = strings.TrimPrefix(target, "http://")
	host := strings.SplitN(target, "/", 2)[0]
	host = strings.SplitN(host, ":", 2)[0]
	host = strings.ToLower(host)
	labels := strings.Split(host, ".")
	if len(labels) > 2 {
		labels = labels[:2]
	}
	return SiteID(strings.Join(labels, "_"))
}

// Parts splits the SiteID into its department and university labels.
func (s SiteID) Parts() (department string, university string) {
	parts := strings.SplitN(string(s), "_", 2)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[1]
}

// UnwrapArchiveURL returns the original URL embedded in an archive snapshot URL.
func UnwrapArchiveURL(rawURL string) string {
	if m := archivePrefix.FindStringSubmatch(rawURL); m != nil {
		return m[2]
	}
	return rawURL
}

// CanonicalURL strips the archive wrapper, the :80 port and a trailing slash, and forces https.
func CanonicalURL(rawURL string) string {
	u := UnwrapArchiveURL(strings.TrimSpace(rawURL))
	u = defaultHTTPPort.ReplaceAllString(u, "$1")
	if strings.HasPrefix(u, "http://") {
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/")
}

// CaptureDate extracts the capture day from an archive snapshot URL.
// ok is false when the URL carries no archive timestamp, meaning it is a live page.
func CaptureDate(rawURL string) (Date, bool) {
	m := captureTimestamp.FindStringSubmatch(rawURL)
	if m == nil {
		return Date{}, false
	}
	// Short timestamps are valid archive prefixes; pad them to January 1st, midnight.
	stamp := m[1] + timestampPadding[len(m[1])-4:]
	t, err := time.Parse(archiveTimestampLayout, stamp)
	if err != nil {
		return Date{}, false
	}
	return NewDate(t), true
}

// RawContentURL rewrites an archive snapshot URL so the archive serves the page without its toolbar.
func RawContentURL(rawURL string) string {
	m := archivePrefix.FindStringSubmatch(rawURL)
	if m == nil {
		return rawURL
	}
	return "https://web.archive.org/web/" + m[1] + "id_/" + m[2]
}
