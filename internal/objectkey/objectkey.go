// Package objectkey builds object storage keys for tuning files.
//
// Keys are human-traceable when the owner name and submission time are known,
// and always carry a random component so identical inputs never collide.
package objectkey

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind selects the file version a key addresses.
type Kind string

const (
	Original Kind = "original"
	Modified Kind = "modified"
)

const noModifications = "no-modifications"

// Input describes the file a key is generated for. OwnerName and SubmittedAt
// are optional; without both the random fallback scheme is used.
type Input struct {
	Kind          Kind
	OwnerID       string
	FileID        string
	Filename      string
	OwnerName     string
	SubmittedAt   time.Time
	Modifications []string
}

// Generator builds keys. NewID is the randomness source and may be replaced
// in tests.
type Generator struct {
	NewID func() uuid.UUID
}

// New returns a Generator backed by random v4 UUIDs.
func New() *Generator {
	return &Generator{NewID: uuid.New}
}

// Key returns the storage key for in.
func (g *Generator) Key(in Input) string {
	kind := in.Kind
	if kind != Modified {
		kind = Original
	}
	filename := baseName(in.Filename)
	id := g.NewID()

	if strings.TrimSpace(in.OwnerName) == "" || in.SubmittedAt.IsZero() {
		return "orders/" + in.FileID + "-" + id.String() + "/" + string(kind) + "/" + filename
	}

	mods := noModifications
	if len(in.Modifications) > 0 {
		mods = Slug(strings.Join(in.Modifications, "-"))
	}
	ts := in.SubmittedAt.UTC()

	var b strings.Builder
	b.WriteString("orders/")
	b.WriteString(Slug(in.OwnerName))
	b.WriteByte('-')
	b.WriteString(Slug(filename))
	b.WriteByte('-')
	b.WriteString(mods)
	b.WriteByte('-')
	b.WriteString(ts.Format("2006-01-02"))
	b.WriteByte('-')
	b.WriteString(ts.Format("15-04-05"))
	b.WriteByte('-')
	b.WriteString(short(id))
	b.WriteByte('/')
	b.WriteString(string(kind))
	b.WriteByte('/')
	b.WriteString(filename)
	return b.String()
}

// Slug strips diacritics, lowercases s and replaces every rune outside
// [a-z0-9.-] with '-'.
func Slug(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// short is the first 8 hex characters of id.
func short(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// baseName keeps the last path element so a filename can never add prefixes.
func baseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "file.bin"
	}
	return name
}
