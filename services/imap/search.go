package imap

import (
	"fmt"
	"net/textproto"
	"strings"

	goimap "github.com/emersion/go-imap"

	"github.com/mailhoard/mailhoard/config"
)

// searchTerm is one elementary header test, e.g. TO "a@b.c".
type searchTerm struct {
	field string
	value string
}

// filterTerms flattens a filter into elementary terms. Addresses and
// domains match any of TO, FROM and CC; the from_* variants match FROM
// only. Order is stable so the folded query is deterministic.
func filterTerms(f *config.Filter) []searchTerm {
	var terms []searchTerm
	if f == nil {
		return terms
	}
	for _, v := range f.Addresses {
		terms = append(terms,
			searchTerm{"TO", v}, searchTerm{"FROM", v}, searchTerm{"CC", v})
	}
	for _, v := range f.Domains {
		terms = append(terms,
			searchTerm{"TO", v}, searchTerm{"FROM", v}, searchTerm{"CC", v})
	}
	for _, v := range f.FromAddresses {
		terms = append(terms, searchTerm{"FROM", v})
	}
	for _, v := range f.FromDomains {
		terms = append(terms, searchTerm{"FROM", v})
	}
	return terms
}

// BuildQuery renders the filter as an IMAP SEARCH program string.
// Terms are OR-joined by left fold, so three terms come out as
// (OR (OR a b) c). An empty filter searches everything.
func BuildQuery(f *config.Filter) string {
	terms := filterTerms(f)
	if len(terms) == 0 {
		return "ALL"
	}

	expr := termString(terms[0])
	for _, t := range terms[1:] {
		expr = fmt.Sprintf("OR %s %s", wrapCompound(expr), termString(t))
	}
	return "(" + expr + ")"
}

func termString(t searchTerm) string {
	return fmt.Sprintf("%s %q", t.field, t.value)
}

func wrapCompound(expr string) string {
	if strings.HasPrefix(expr, "OR ") {
		return "(" + expr + ")"
	}
	return expr
}

// BuildCriteria is the wire form of BuildQuery: the same left fold
// expressed as go-imap search criteria.
func BuildCriteria(f *config.Filter) *goimap.SearchCriteria {
	terms := filterTerms(f)
	if len(terms) == 0 {
		return goimap.NewSearchCriteria()
	}

	acc := termCriteria(terms[0])
	for _, t := range terms[1:] {
		or := goimap.NewSearchCriteria()
		or.Or = [][2]*goimap.SearchCriteria{{acc, termCriteria(t)}}
		acc = or
	}
	return acc
}

func termCriteria(t searchTerm) *goimap.SearchCriteria {
	c := goimap.NewSearchCriteria()
	c.Header = textproto.MIMEHeader{
		textproto.CanonicalMIMEHeaderKey(t.field): {t.value},
	}
	return c
}
