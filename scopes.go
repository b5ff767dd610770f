package authcore

import (
	"strings"
)

// ParseScopes splits a scope string on spaces or commas, dropping blanks
// and duplicates. Providers return space separated scopes; accounts store
// them comma separated.
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	fields := strings.FieldsFunc(scopeString, func(r rune) bool { return r == ' ' || r == ',' })
	return MergeScopes(nil, fields)
}

// JoinScopes renders scopes the way accounts store them.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, ",")
}

// MergeScopes appends the scopes of added missing from existing, keeping
// the order of first appearance.
func MergeScopes(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	result := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}
	return result
}

// ContainsAllScopes checks if all required scopes are present in the granted scopes
func ContainsAllScopes(granted, required []string) bool {
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	for _, s := range required {
		if !grantedSet[s] {
			return false
		}
	}
	return true
}

// withGrantedScopes returns the tokens to store on an existing account.
// Scopes granted earlier are kept, since a provider may report only the
// scopes of the latest consent.
func withGrantedScopes(tokens *OAuthTokens, acc *Account) *OAuthTokens {
	if tokens == nil || acc == nil || acc.Scope == "" {
		return tokens
	}
	stored := ParseScopes(acc.Scope)
	if ContainsAllScopes(tokens.Scopes, stored) {
		return tokens
	}
	out := *tokens
	out.Scopes = MergeScopes(stored, tokens.Scopes)
	return &out
}
