package mail

import (
	"fmt"
	"strings"
	"time"
)

// PasswordReset renders the mail carrying a raw reset token.
func PasswordReset(to, name, resetURL string, ttl time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	b.WriteString("We received a request to reset your password.\n")
	fmt.Fprintf(&b, "Use the link below within %s to choose a new one:\n\n%s\n\n", ttl.Round(time.Minute), resetURL)
	b.WriteString("If you did not ask for this, you can ignore this email.\n")
	return Message{Kind: KindPasswordReset, To: to, Subject: "Reset your password", Body: b.String()}
}

// ReportInfo describes the upload a report mail refers to.
type ReportInfo struct {
	SenderName  string
	SenderEmail string
	PatientName string
	BodyPart    string
	Description string
	Uploaded    time.Time
	Findings    int
	ImageURL    string
	ReportURL   string
}

// Report renders the mail sharing an X-ray report.
func Report(to string, r ReportInfo) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) shared an X-ray report with you.\n\n", r.SenderName, r.SenderEmail)
	fmt.Fprintf(&b, "Patient: %s\nBody part: %s\nUploaded: %s\nFindings: %d\n",
		r.PatientName, r.BodyPart, r.Uploaded.UTC().Format("2006-01-02 15:04 MST"), r.Findings)
	if r.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
	}
	fmt.Fprintf(&b, "\nImage: %s\n", r.ImageURL)
	if r.ReportURL != "" {
		fmt.Fprintf(&b, "Report (PDF): %s\n", r.ReportURL)
	}
	return Message{Kind: KindReport, To: to, Subject: "X-ray report for " + r.PatientName, Body: b.String()}
}

// Contact renders a contact-form message for the site operator.
func Contact(to, name, email, message string) Message {
	body := fmt.Sprintf("From: %s <%s>\n\n%s\n", name, email, message)
	return Message{Kind: KindContact, To: to, Subject: "Contact form: " + name, Body: body}
}
