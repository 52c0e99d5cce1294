package types

import "encoding/json"

// AggregateContent is the decoded payload of an AGGREGATE envelope.
type AggregateContent struct {
	Key     string          `json:"key"`
	Content json.RawMessage `json:"content"`
	Time    float64         `json:"time"`
}

// PostContent is the decoded payload of a POST envelope.
type PostContent struct {
	PostType string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Ref      *string         `json:"ref,omitempty"`
	Time     float64         `json:"time"`
}

// StoreContent is the decoded payload of a STORE envelope.
type StoreContent struct {
	ItemType  ItemType `json:"item_type"`
	ItemHash  string   `json:"item_hash"`
	Ref       *string  `json:"ref,omitempty"`
	Time      float64  `json:"time"`
	Temporary bool     `json:"temporary,omitempty"`
}

// ForgetContent is the decoded payload of a FORGET envelope.
type ForgetContent struct {
	Hashes     []string `json:"hashes"`
	Aggregates []string `json:"aggregates,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Time       float64  `json:"time"`
}

// ProgramTrigger names the event classes a PROGRAM can be invoked by.
type ProgramTrigger struct {
	OnHTTP  json.RawMessage `json:"on.http,omitempty"`
	OnAleph json.RawMessage `json:"on.aleph,omitempty"`
	OnCron  json.RawMessage `json:"on.cron,omitempty"`
}

// ProgramContent is the decoded payload of a PROGRAM envelope. The core
// never executes a program; it only persists the descriptor (spec.md §4.4).
type ProgramContent struct {
	Runtime  string          `json:"runtime"`
	Code     json.RawMessage `json:"code,omitempty"`
	Triggers ProgramTrigger  `json:"triggers"`
	Time     float64         `json:"time"`
}

// DelegationFilter describes one entry in a security aggregate's delegation
// list. A nil/empty slice field means "wildcard" (matches anything).
type DelegationFilter struct {
	Address       string   `json:"address"`
	Channels      []string `json:"channels,omitempty"`
	Types         []string `json:"types,omitempty"`
	PostTypes     []string `json:"post_types,omitempty"`
	AggregateKeys []string `json:"aggregate_keys,omitempty"`
}

// SecurityContent is the decoded content of the well-known "security"
// aggregate key, consulted by the Authorize step in pending/authorize.go.
type SecurityContent struct {
	Authorizations []DelegationFilter `json:"authorizations,omitempty"`
}

// Matches reports whether this filter authorizes an envelope of the given
// channel/type (and, for POST/AGGREGATE, the more specific sub-discriminator).
func (f DelegationFilter) Matches(channel string, msgType MessageType, postType, aggregateKey string) bool {
	if !matchesWildcard(f.Channels, channel) {
		return false
	}
	if !matchesWildcard(f.Types, string(msgType)) {
		return false
	}
	if msgType == TypePost && !matchesWildcard(f.PostTypes, postType) {
		return false
	}
	if msgType == TypeAggregate && !matchesWildcard(f.AggregateKeys, aggregateKey) {
		return false
	}
	return true
}

func matchesWildcard(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}
