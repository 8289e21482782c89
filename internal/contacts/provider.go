// Package contacts reads the device address book from a YAML export and
// watches it for changes.
package contacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/yanivian/connect-app-sub000/internal/listutil"
	"github.com/yanivian/connect-app-sub000/internal/model"
)

// ErrPermissionDenied is returned when the address book cannot be read.
// Callers treat it as "no access" and skip the sync.
var ErrPermissionDenied = errors.New("contacts: permission denied")

// Book is the on-disk address-book export.
type Book struct {
	Contacts []Record `yaml:"contacts"`
}

// Record is one address-book card.
type Record struct {
	Name   string  `yaml:"name"`
	Phones []Phone `yaml:"phones"`
}

// Phone is a labelled phone number on a card.
type Phone struct {
	Label  string `yaml:"label"`
	Number string `yaml:"number"`
}

// Provider reads entries from a YAML address-book file.
type Provider struct {
	path string
}

// NewProvider creates a provider for the file at path.
func NewProvider(path string) *Provider {
	return &Provider{path: path}
}

// Path returns the address-book file path.
func (p *Provider) Path() string { return p.path }

// Entries returns the normalized address-book entries. A missing or
// unreadable file yields ErrPermissionDenied.
func (p *Provider) Entries() ([]model.ContactEntry, error) {
	if p.path == "" {
		return nil, ErrPermissionDenied
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read address book: %w", err)
	}

	var book Book
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("parse address book: %w", err)
	}
	return Normalize(book.Contacts), nil
}

// Normalize flattens records into one entry per phone number, dropping
// entries without a usable number. Entries are deduplicated by name and
// number and ordered by name, label, number.
func Normalize(records []Record) []model.ContactEntry {
	var out []model.ContactEntry
	for _, r := range records {
		name := strings.TrimSpace(r.Name)
		for _, ph := range r.Phones {
			number := NormalizePhone(ph.Number)
			if number == "" {
				continue
			}
			out = listutil.Upsert(model.ContactEntry{
				Name:        name,
				Label:       strings.ToLower(strings.TrimSpace(ph.Label)),
				PhoneNumber: number,
			}, out, model.SameContact)
		}
	}
	slices.SortStableFunc(out, model.CompareContacts)
	return out
}

// NormalizePhone strips formatting from a phone number, keeping digits and
// a leading plus sign.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.Trim(out, "+") == "" {
		return ""
	}
	return out
}
