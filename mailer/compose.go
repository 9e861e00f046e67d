package mailer

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Compose renders a multipart/alternative message with a plain-text and
// an HTML part. Either body may be empty; at least one must be set.
// The text part is written first so clients that stop at the first
// acceptable alternative prefer HTML.
func Compose(fromName, fromAddr, to, subject, htmlBody, textBody string) ([]byte, error) {
	if fromAddr == "" {
		return nil, fmt.Errorf("compose: empty from address")
	}
	if to == "" {
		return nil, fmt.Errorf("compose: empty recipient")
	}
	if htmlBody == "" && textBody == "" {
		return nil, fmt.Errorf("compose: no body")
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: fromName, Address: fromAddr}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	alt, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	if textBody != "" {
		var th mail.InlineHeader
		th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		part, err := alt.CreatePart(th)
		if err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		if _, err := io.WriteString(part, textBody); err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		part.Close()
	}

	if htmlBody != "" {
		var hh mail.InlineHeader
		hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		part, err := alt.CreatePart(hh)
		if err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		if _, err := io.WriteString(part, htmlBody); err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		part.Close()
	}

	if err := alt.Close(); err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	return buf.Bytes(), nil
}
