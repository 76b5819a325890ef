package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"receiptvault/internal/domain/receipt"
	"receiptvault/internal/domain/sync"
)

type pullInput struct {
	Body PullRequest
}

type PullRequest struct {
	Cursor time.Time `json:"cursor" format:"date-time" example:"2026-05-04T10:00:00Z" doc:"newCursor returned by the previous pull or full sync"`
}

type fullInput struct {
	Body *FullRequest `required:"false"`
}

type FullRequest struct{}

type snapshotOutput struct {
	Body SnapshotResponse
}

type SnapshotResponse struct {
	Items     []Record  `json:"items"`
	Count     int       `json:"count"`
	NewCursor time.Time `json:"newCursor" format:"date-time"`
}

type Record struct {
	RecordID      string    `json:"recordId"`
	ServerVersion int64     `json:"serverVersion"`
	Fields        FieldMap  `json:"fields"`
	CreatedAt     time.Time `json:"createdAt" format:"date-time"`
	UpdatedAt     time.Time `json:"updatedAt" format:"date-time"`
}

// FieldMap is a receipt payload on the wire. Numbers decode to
// json.Number so they reach the store digit for digit.
type FieldMap map[string]any

func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*m = raw
	return nil
}

type pushInput struct {
	Body PushRequest
}

type PushRequest struct {
	Items []PushItem `json:"items" doc:"Records changed on the device since their serverVersion"`
}

// PushItem fields are all optional in the schema; a malformed item is
// answered with a rejected outcome instead of failing the batch.
type PushItem struct {
	RecordID         string   `json:"recordId,omitempty"`
	ServerVersion    int64    `json:"serverVersion,omitempty" doc:"Version the device last saw, 0 for new records"`
	Fields           FieldMap `json:"fields,omitempty"`
	UserEditedFields []string `json:"userEditedFields,omitempty"`
}

type pushOutput struct {
	Body PushResponse
}

type PushResponse struct {
	Outcomes []Outcome `json:"outcomes"`
}

type Outcome struct {
	RecordID   string     `json:"recordId"`
	Outcome    string     `json:"outcome" enum:"accepted,merged,conflict,rejected,not_found"`
	NewVersion int64      `json:"newVersion,omitempty"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

type Conflict struct {
	Field       string `json:"field"`
	ClientValue any    `json:"clientValue"`
	ServerValue any    `json:"serverValue"`
	Resolution  string `json:"resolution"`
}

func toSnapshot(resp *sync.SnapshotResponse) SnapshotResponse {
	items := make([]Record, 0, len(resp.Items))
	for _, r := range resp.Items {
		items = append(items, toRecord(r))
	}
	return SnapshotResponse{
		Items:     items,
		Count:     resp.Count,
		NewCursor: resp.NewCursor,
	}
}

func toRecord(r receipt.Record) Record {
	return Record{
		RecordID:      r.RecordID,
		ServerVersion: r.Version,
		Fields:        r.Fields.Interface(),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.LastModified,
	}
}

func toClientRecords(items []PushItem) ([]sync.ClientRecord, error) {
	out := make([]sync.ClientRecord, 0, len(items))
	for i, item := range items {
		fields, err := receipt.FieldsFromMap(item.Fields)
		if err != nil {
			return nil, &sync.ValidationError{
				Field:   fmt.Sprintf("items[%d].fields", i),
				Message: err.Error(),
			}
		}
		out = append(out, sync.ClientRecord{
			RecordID:         item.RecordID,
			ServerVersion:    item.ServerVersion,
			Fields:           fields,
			UserEditedFields: item.UserEditedFields,
		})
	}
	return out, nil
}

func toOutcomes(resp *sync.PushResponse) []Outcome {
	out := make([]Outcome, 0, len(resp.Outcomes))
	for _, o := range resp.Outcomes {
		var conflicts []Conflict
		for _, c := range o.Conflicts {
			conflicts = append(conflicts, Conflict{
				Field:       c.Field,
				ClientValue: c.ClientValue.Interface(),
				ServerValue: c.ServerValue.Interface(),
				Resolution:  c.Resolution,
			})
		}
		out = append(out, Outcome{
			RecordID:   o.RecordID,
			Outcome:    string(o.Outcome),
			NewVersion: o.NewVersion,
			Conflicts:  conflicts,
			Reason:     o.Reason,
		})
	}
	return out
}
