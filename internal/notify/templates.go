package notify

import (
	"fmt"
	"html"
	"strings"
)

// statusLabels are the button captions for target statuses.
var statusLabels = map[string]string{
	"RECEIVED": "Back to received",
	"PENDING":  "Start processing",
	"READY":    "Mark ready",
}

func operatorText(ev Event) string {
	var b strings.Builder
	switch ev.Kind {
	case KindFileSubmitted:
		b.WriteString("<b>New tuning file</b>\n")
	case KindFileReceived:
		b.WriteString("<b>File moved back to received</b>\n")
	case KindFilePending:
		b.WriteString("<b>File in progress</b>\n")
	case KindFileReady:
		b.WriteString("<b>File ready</b>\n")
	case KindShipmentUpdated:
		fmt.Fprintf(&b, "<b>Shipment update</b>\nOrder: %s\nTracking: %s\nStatus: %s",
			esc(ev.OrderID), esc(ev.Tracking), esc(ev.Status))
		return b.String()
	}
	fmt.Fprintf(&b, "File: %s\n", esc(ev.Filename))
	fmt.Fprintf(&b, "Customer: %s\n", esc(customerLabel(ev.Customer)))
	if len(ev.Modifications) > 0 {
		fmt.Fprintf(&b, "Modifications: %s\n", esc(strings.Join(ev.Modifications, ", ")))
	}
	if ev.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", esc(ev.Comment))
	}
	if ev.EstimateMinutes != nil {
		fmt.Fprintf(&b, "Estimate: %d min\n", *ev.EstimateMinutes)
	}
	fmt.Fprintf(&b, "Status: %s\nID: <code>%s</code>", esc(ev.Status), esc(ev.FileID))
	return b.String()
}

func customerText(ev Event) string {
	switch ev.Kind {
	case KindFilePending:
		s := fmt.Sprintf("Your file <b>%s</b> is being processed.", esc(ev.Filename))
		if ev.EstimateMinutes != nil {
			s += fmt.Sprintf("\nEstimated time: %d minutes.", *ev.EstimateMinutes)
		}
		return s
	case KindFileReady:
		s := fmt.Sprintf("Your file <b>%s</b> is ready.", esc(ev.Filename))
		if ev.URL != "" {
			s += "\n" + esc(ev.URL)
		}
		return s
	case KindShipmentUpdated:
		return fmt.Sprintf("Your order %s (tracking %s) is now %s.", esc(ev.OrderID), esc(ev.Tracking), esc(strings.ToLower(ev.Status)))
	}
	return ""
}

func readyEmail(ev Event) (subject, text, htmlBody string) {
	subject = "Your tuning file " + ev.Filename + " is ready"
	name := ev.Customer.Name
	if name == "" {
		name = "customer"
	}
	text = fmt.Sprintf("Hello %s,\n\nYour modified file %s is ready for download.\n", name, ev.Filename)
	htmlBody = fmt.Sprintf("<p>Hello %s,</p><p>Your modified file <b>%s</b> is ready for download.</p>", esc(name), esc(ev.Filename))
	if ev.URL != "" {
		text += "\n" + ev.URL + "\n"
		htmlBody += fmt.Sprintf(`<p><a href="%s">Open your files</a></p>`, esc(ev.URL))
	}
	return subject, text, htmlBody
}

func customerLabel(r Recipient) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func esc(s string) string { return html.EscapeString(s) }
