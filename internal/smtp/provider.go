package smtp

import "strings"

// DefaultSubmissionPort is the port tried for STARTTLS submission when the
// provider table has no entry for the sender's domain.
const DefaultSubmissionPort = 587

type endpoint struct {
	host string
	port int
}

// providerTable maps known sender domains to their SMTP submission endpoint.
// Domains not listed here get smtp.<domain>:587 synthesized instead.
var providerTable = map[string]endpoint{
	"gmail.com":            {"smtp.gmail.com", 587},
	"yahoo.com":            {"smtp.mail.yahoo.com", 587},
	"hotmail.com":          {"smtp.live.com", 587},
	"outlook.com":          {"smtp.office365.com", 587},
	"aol.com":              {"smtp.aol.com", 587},
	"rediffmail.com":       {"smtp.rediffmail.com", 587},
	"rediff.com":           {"smtp.rediffmail.com", 587},
	"rediffmailpro.com":    {"smtp.rediffmailpro.com", 465},
	"beenetmunication.com": {"smtp.rediffmailpro.com", 465},
}

// Resolve maps a sender address to an SMTP submission endpoint. It never
// fails: an unknown domain yields smtp.<domain>:587 and validity checking is
// deferred to the dialer. An address with no @ falls back to the gmail entry.
func Resolve(senderAddress string) (host string, port int) {
	domain := "gmail.com"
	if at := strings.LastIndex(senderAddress, "@"); at >= 0 && at < len(senderAddress)-1 {
		domain = strings.ToLower(strings.TrimSpace(senderAddress[at+1:]))
	}
	if ep, ok := providerTable[domain]; ok {
		return ep.host, ep.port
	}
	return "smtp." + domain, DefaultSubmissionPort
}
