// Package message assembles the MIME messages sent by the dispatch engine.
// Every built message carries exactly one open-tracking beacon, regardless of
// how well-formed the caller's HTML body is.
package message

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"
	"unicode"

	"github.com/ignite/mailtrace/internal/domain"
	"github.com/ignite/mailtrace/internal/pkg/logger"
)

// Fixed multipart boundary keeps Build deterministic for identical inputs,
// which the tests rely on. Unusual enough not to collide with body content.
const mimeBoundary = "=_mailtrace_7a1f94c2d30b"

// BeaconURL builds the tracking pixel URL embedded in an outgoing message.
// Shape: <base>/track/<campaignID>/<recipient>?sender=<sender> with
// path-segment escaping for campaign and recipient. This is a wire contract
// shared byte-for-byte with the tracking endpoint's route parsing.
func BeaconURL(trackingBaseURL, campaignID, recipient, sender string) string {
	return strings.TrimRight(trackingBaseURL, "/") +
		"/track/" + url.PathEscape(campaignID) +
		"/" + url.PathEscape(recipient) +
		"?sender=" + url.QueryEscape(sender)
}

// InjectBeacon embeds a 1x1 invisible image pointing at beaconURL into the
// HTML body. Bodies without a root <html> wrapper are wrapped first; the tag
// goes immediately before </body> when one exists, otherwise it is appended.
func InjectBeacon(htmlBody, beaconURL string) string {
	pixelTag := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none">`, beaconURL)

	if !strings.Contains(htmlBody, "<html") {
		htmlBody = "<html>\n<head></head>\n<body>\n" + htmlBody + "\n</body>\n</html>"
	}
	if idx := strings.LastIndex(htmlBody, "</body>"); idx >= 0 {
		return htmlBody[:idx] + pixelTag + htmlBody[idx:]
	}
	return htmlBody + pixelTag
}

// Build assembles the full RFC 5322 message for one job: headers, the
// beacon-injected HTML part, and one binary part per attachment. An
// attachment with no content is logged and skipped rather than failing the
// whole message. Output is byte-identical for identical inputs.
func Build(job domain.SendJob, sender, trackingBaseURL string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %q <%s>\r\n", displayName(sender), sender)
	fmt.Fprintf(&buf, "To: %s\r\n", job.Recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", job.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", mimeBoundary)
	buf.WriteString("\r\n")

	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(mimeBoundary); err != nil {
		return nil, fmt.Errorf("set boundary: %w", err)
	}

	beacon := BeaconURL(trackingBaseURL, job.CampaignID, job.Recipient, sender)
	body := InjectBeacon(job.Body, beacon)

	// 8bit instead of quoted-printable: QP would escape the = in the beacon
	// query string and soft-wrap inside the URL, and the beacon has to survive
	// byte-for-byte.
	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}

	for _, att := range job.Attachments {
		if len(att.Content) == 0 {
			logger.Warn("attachment missing or empty, skipping",
				"filename", att.Filename, "recipient", job.Recipient)
			continue
		}
		if err := writeAttachment(mw, att); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), nil
}

func writeAttachment(mw *multipart.Writer, att domain.Attachment) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("application/octet-stream; name=%q", att.Filename)},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Filename)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return fmt.Errorf("create attachment part %s: %w", att.Filename, err)
	}

	encoded := base64.StdEncoding.EncodeToString(att.Content)
	// RFC 2045: base64 lines capped at 76 characters.
	for len(encoded) > 0 {
		n := 76
		if len(encoded) < n {
			n = len(encoded)
		}
		if _, err := part.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return fmt.Errorf("write attachment %s: %w", att.Filename, err)
		}
		encoded = encoded[n:]
	}
	return nil
}

// displayName derives the From display name from the sender's local part,
// first letter capitalized ("jane.ops@x.com" → "Jane.ops").
func displayName(sender string) string {
	local := sender
	if at := strings.Index(sender, "@"); at >= 0 {
		local = sender[:at]
	}
	if local == "" {
		return sender
	}
	r := []rune(local)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
