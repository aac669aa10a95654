// Package blacklist holds the set of addresses whose balances are excluded
// from circulating supply and holder rankings.
package blacklist

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EnvVar is the environment variable holding the comma separated list.
const EnvVar = "JPYC_BLACKLIST_ADDRESSES"

// IsValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
// Checksum casing is not enforced.
func IsValidAddress(s string) bool {
	return len(s) == 2+2*common.AddressLength &&
		(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) &&
		common.IsHexAddress(s)
}

// Normalize lowercases a valid address. The second result is false for
// invalid input.
func Normalize(s string) (string, bool) {
	if !IsValidAddress(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

// Set is an immutable set of normalized addresses. The zero value is empty.
type Set struct {
	addrs map[string]struct{}
}

// New builds a Set from addresses, dropping invalid ones.
func New(addresses ...string) Set {
	s := Set{addrs: make(map[string]struct{}, len(addresses))}
	for _, a := range addresses {
		if n, ok := Normalize(strings.TrimSpace(a)); ok {
			s.addrs[n] = struct{}{}
		}
	}
	return s
}

// Parse reads a comma separated list. Blank entries are skipped; entries
// that are not valid addresses are returned in invalid.
func Parse(csv string) (set Set, invalid []string) {
	var valid []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !IsValidAddress(part) {
			invalid = append(invalid, part)
			continue
		}
		valid = append(valid, part)
	}
	return New(valid...), invalid
}

// FromEnv parses EnvVar using lookup, typically os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Set, []string) {
	v, ok := lookup(EnvVar)
	if !ok || strings.TrimSpace(v) == "" {
		return Set{}, nil
	}
	return Parse(v)
}

// Contains reports whether address is in the set. Invalid addresses are
// never contained.
func (s Set) Contains(address string) bool {
	n, ok := Normalize(address)
	if !ok {
		return false
	}
	_, found := s.addrs[n]
	return found
}

// Len returns the number of addresses.
func (s Set) Len() int {
	return len(s.addrs)
}

// Addresses returns the normalized addresses in sorted order.
func (s Set) Addresses() []string {
	out := make([]string, 0, len(s.addrs))
	for a := range s.addrs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
