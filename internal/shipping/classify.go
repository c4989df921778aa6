package shipping

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/MedLarabi/compucar-sub005/internal/carrier"
	"github.com/MedLarabi/compucar-sub005/internal/orders"
)

type rule struct {
	token  string
	status string
}

// statusRules is checked in order against the normalized status text; the
// first token found wins. Returns come before failures, failures before
// delivery, and preparation before transit so that e.g. "retour vers centre"
// and "pas encore expedie" are not read as transit.
var statusRules = []rule{
	{"retour", orders.StatusCancelled},
	{"return", orders.StatusCancelled},
	{"annule", orders.StatusCancelled},
	{"cancel", orders.StatusCancelled},
	{"supprime", orders.StatusCancelled},

	{"echec", orders.StatusProcessing},
	{"echoue", orders.StatusProcessing},
	{"tentative", orders.StatusProcessing},
	{"failed", orders.StatusProcessing},
	{"en alerte", orders.StatusProcessing},

	{"livre", orders.StatusDelivered},
	{"delivered", orders.StatusDelivered},

	{"pas encore expedie", orders.StatusProcessing},
	{"en preparation", orders.StatusProcessing},
	{"a verifier", orders.StatusProcessing},

	{"expedie", orders.StatusShipped},
	{"transit", orders.StatusShipped},
	{"vers wilaya", orders.StatusShipped},
	{"recu a wilaya", orders.StatusShipped},
	{"centre", orders.StatusShipped},
	{"en livraison", orders.StatusShipped},
	{"en attente", orders.StatusShipped},
	{"shipped", orders.StatusShipped},
}

// Normalize strips diacritics, lowercases and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Classify maps a carrier event to an order status. ok is false when the
// status text matches no known token.
func Classify(eventType, statusText string) (status string, ok bool) {
	switch eventType {
	case carrier.TypeParcelDeleted:
		return orders.StatusCancelled, true
	case carrier.TypeParcelCreated:
		if strings.TrimSpace(statusText) == "" {
			return orders.StatusShipped, true
		}
	}
	text := Normalize(statusText)
	if text == "" {
		return "", false
	}
	for _, r := range statusRules {
		if strings.Contains(text, r.token) {
			return r.status, true
		}
	}
	return "", false
}

// regresses reports whether moving from -> to would undo a delivery.
func regresses(from, to string) bool {
	return from == orders.StatusDelivered && (to == orders.StatusShipped || to == orders.StatusProcessing)
}
