// Package fanout implements the subscription registry that routes extracted
// verification codes to interested subscribers. Subscriptions are keyed by
// recipient pattern: an exact address, a domain wildcard ("*@example.com"),
// or the global wildcard ("*").
package fanout

import "strings"

// PatternKind enumerates the supported subscription pattern shapes.
type PatternKind uint8

const (
	// KindExact matches a single full address.
	KindExact PatternKind = iota

	// KindDomainWildcard matches every address in one domain.
	KindDomainWildcard

	// KindGlobal matches every address.
	KindGlobal
)

// Pattern is a parsed recipient pattern. Construct with ParsePattern so the
// value is normalized.
type Pattern struct {
	kind PatternKind

	// value holds the lowercased address for KindExact, or the
	// lowercased domain for KindDomainWildcard. Empty for KindGlobal.
	value string
}

// ParsePattern normalizes a raw pattern string. "*" is the global wildcard,
// "*@domain" a domain wildcard, and anything else an exact address match.
// Matching is case-insensitive, so the value is lowercased here once.
func ParsePattern(raw string) Pattern {
	raw = strings.ToLower(strings.TrimSpace(raw))

	switch {
	case raw == "*":
		return Pattern{kind: KindGlobal}

	case strings.HasPrefix(raw, "*@") && len(raw) > 2:
		return Pattern{
			kind:  KindDomainWildcard,
			value: raw[2:],
		}

	default:
		return Pattern{kind: KindExact, value: raw}
	}
}

// Kind returns the pattern's shape.
func (p Pattern) Kind() PatternKind {
	return p.kind
}

// Key returns the canonical registry key for this pattern.
func (p Pattern) Key() string {
	switch p.kind {
	case KindGlobal:
		return "*"

	case KindDomainWildcard:
		return "*@" + p.value

	default:
		return p.value
	}
}

// String implements fmt.Stringer.
func (p Pattern) String() string {
	return p.Key()
}

// domainOf extracts the domain part of an address, or "" when the address
// has no "@".
func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}

	return ""
}

// matchKeys returns the ordered list of registry keys an event should be
// delivered under: the exact key and domain wildcard key for each recipient
// in order, the exact key for the sender, and the global wildcard exactly
// once. Delivery is per recipient, so a domain shared by several recipients
// yields its wildcard key once for each of them; only the sender's exact key
// (when it doubles as a recipient) and the global key are deduplicated.
func matchKeys(ev Event) []string {
	keys := make([]string, 0, 2*len(ev.Recipients)+2)
	exact := make(map[string]struct{}, len(ev.Recipients))

	for _, rcpt := range ev.Recipients {
		addr := strings.ToLower(rcpt)
		exact[addr] = struct{}{}
		keys = append(keys, addr)
		if domain := domainOf(addr); domain != "" {
			keys = append(keys, "*@"+domain)
		}
	}

	// Sender matching is kept for subscribers that key on the sending
	// service's address rather than the mailbox alias.
	if sender := strings.ToLower(ev.Sender); sender != "" {
		if _, ok := exact[sender]; !ok {
			keys = append(keys, sender)
		}
	}

	keys = append(keys, "*")

	return keys
}
