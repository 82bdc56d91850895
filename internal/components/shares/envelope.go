package shares

import (
	"bufio"
	"fmt"
	"strings"
)

// Envelope is the payload sent over the notification channel for one record.
type Envelope struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Recipient string `json:"recipient"`
}

// Empty reports whether the envelope lacks a title or body.
func (e Envelope) Empty() bool {
	return strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Body) == ""
}

// EnvelopeTitle is the title of every share notification.
const EnvelopeTitle = "A file has been shared with you"

// Body line labels.
const (
	labelFrom    = "From: "
	labelHash    = "File hash: "
	labelLocator = "Locator: "
	labelKey     = "Key: "
	labelLink    = "Link: "
)

// EnvelopeOptions tunes envelope rendering.
type EnvelopeOptions struct {
	// GatewayURL, when set, adds a Link line for CID locators.
	GatewayURL string
}

// BuildEnvelope renders the envelope for r. The body embeds the file hash,
// the locator and the reference key so the recipient can find the share
// without another lookup, and so duplicates are detectable downstream.
func BuildEnvelope(r Record, opts EnvelopeOptions) (Envelope, error) {
	if err := r.Validate(); err != nil {
		return Envelope{}, err
	}
	loc, err := ParseLocator(r.FileLocator)
	if err != nil {
		return Envelope{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s shared a file with you.\n", r.Sender)
	b.WriteString(labelFrom + r.Sender + "\n")
	b.WriteString(labelHash + strings.TrimSpace(r.FileHash) + "\n")
	b.WriteString(labelLocator + loc.Raw + "\n")
	b.WriteString(labelKey + r.ReferenceKey())
	if opts.GatewayURL != "" && loc.IsCID() {
		b.WriteString("\n" + labelLink + strings.TrimRight(opts.GatewayURL, "/") + "/ipfs/" + loc.Canonical())
	}

	return Envelope{
		Title:     EnvelopeTitle,
		Body:      b.String(),
		Recipient: r.Recipient,
	}, nil
}

// BodyFields are the values recovered from an envelope body.
type BodyFields struct {
	Sender       string
	FileHash     string
	FileLocator  string
	ReferenceKey string
}

// ParseEnvelopeBody recovers the labelled lines of a body produced by
// BuildEnvelope. ok is false when the body carries no From line.
func ParseEnvelopeBody(body string) (f BodyFields, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, labelFrom):
			f.Sender = strings.TrimSpace(strings.TrimPrefix(line, labelFrom))
		case strings.HasPrefix(line, labelHash):
			f.FileHash = strings.TrimSpace(strings.TrimPrefix(line, labelHash))
		case strings.HasPrefix(line, labelLocator):
			f.FileLocator = strings.TrimSpace(strings.TrimPrefix(line, labelLocator))
		case strings.HasPrefix(line, labelKey):
			f.ReferenceKey = strings.TrimSpace(strings.TrimPrefix(line, labelKey))
		}
	}
	return f, f.Sender != ""
}
