package storage

import (
	"encoding/json"
	"sort"
)

// Filter selects records by conjunction of its set fields. Zero-valued
// fields are ignored; Participants is matched by canonical structural
// equality (sorted JSON) when non-nil.
type Filter struct {
	Pending      bool // match records whose Completed is unset
	User         string
	Command      string
	Action       string
	Participants []string
	PostingMode  string
}

// canonicalParticipants renders a participants list in a canonical, order
// insensitive JSON form so stored and queried lists compare equal
// regardless of original ordering.
func canonicalParticipants(list []string) string {
	cp := append([]string(nil), list...)
	sort.Strings(cp)
	if cp == nil {
		cp = []string{}
	}
	b, _ := json.Marshal(cp)
	return string(b)
}

// marshalArgs renders a payload object for the store's JSON column.
func marshalArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
