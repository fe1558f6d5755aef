// Package ids generates the prefixed, K-sortable identifiers used for ledger
// entries, settlement transactions and invoices ("stx_01h2x...").
package ids

import (
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefixes for each record type.
const (
	PrefixEntry       = "le"
	PrefixTransaction = "stx"
	PrefixInvoice     = "inv"
)

// New returns a fresh identifier with the given prefix. It panics on an
// invalid prefix, which is a programming error.
func New(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewEntryID returns a ledger entry identifier.
func NewEntryID() string { return New(PrefixEntry) }

// NewTransactionID returns a settlement transaction identifier.
func NewTransactionID() string { return New(PrefixTransaction) }

// NewInvoiceID returns an invoice identifier.
func NewInvoiceID() string { return New(PrefixInvoice) }

// HasPrefix reports whether id parses as a TypeID carrying prefix.
func HasPrefix(id, prefix string) bool {
	if !strings.HasPrefix(id, prefix+"_") {
		return false
	}
	_, err := typeid.Parse(id)
	return err == nil
}
