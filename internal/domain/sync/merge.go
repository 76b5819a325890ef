package sync

import (
	"sort"

	"receiptvault/internal/domain/receipt"
)

// ResolutionServerWinsDefault marks an unknown field where the server
// value was kept.
const ResolutionServerWinsDefault = "server_wins_default"

// FieldConflict reports a disagreement on a field outside the policy.
type FieldConflict struct {
	Field       string
	ClientValue receipt.Value
	ServerValue receipt.Value
	Resolution  string
}

// MergeResult is the field-level delta between a stale client copy and
// the current server record.
type MergeResult struct {
	// Updates holds the fields whose resolved value differs from what the
	// server currently stores.
	Updates receipt.Fields
	// Discrepancies lists every field the client sent with a value the
	// server does not hold, sorted.
	Discrepancies []string
	// Conflicts lists unknown-field disagreements, sorted by field.
	Conflicts []FieldConflict
}

// Resolve compares client and server field by field. Fields the client did
// not send are left alone; client payloads may be partial. Bookkeeping
// names are ignored on both sides.
func Resolve(policy Policy, client, server receipt.Fields, edited []string) MergeResult {
	editedSet := make(map[string]struct{}, len(edited))
	for _, name := range edited {
		editedSet[name] = struct{}{}
	}

	res := MergeResult{Updates: receipt.Fields{}}

	names := make(map[string]struct{}, len(client)+len(server))
	for name := range client {
		names[name] = struct{}{}
	}
	for name := range server {
		names[name] = struct{}{}
	}

	for name := range names {
		if name == "" || receipt.IsReserved(name) {
			continue
		}
		clientVal, sent := client[name]
		if !sent {
			continue
		}
		serverVal, stored := server[name]
		if stored && clientVal.Equal(serverVal) {
			continue
		}

		res.Discrepancies = append(res.Discrepancies, name)

		clientWins := false
		switch policy(name) {
		case TierServer:
		case TierClient:
			clientWins = true
		case TierConditional:
			_, clientWins = editedSet[name]
		default:
			// A client clearing an unknown field loses silently.
			if clientVal.IsNull() {
				break
			}
			res.Conflicts = append(res.Conflicts, FieldConflict{
				Field:       name,
				ClientValue: clientVal,
				ServerValue: serverVal,
				Resolution:  ResolutionServerWinsDefault,
			})
		}

		if clientWins {
			res.Updates[name] = clientVal.Clone()
		}
	}

	sort.Strings(res.Discrepancies)
	sort.Slice(res.Conflicts, func(i, j int) bool {
		return res.Conflicts[i].Field < res.Conflicts[j].Field
	})

	return res
}
