package outbox

import "example.com/worklog/internal/events"

const draftCreatedSchema = `{
  "type": "object",
  "title": "DraftCreated",
  "properties": {
    "draft_id": {"type": "string"},
    "draft_key": {"type": "string"},
    "run_id": {"type": "string"},
    "range_start": {"type": "string", "format": "date-time"},
    "range_end": {"type": "string", "format": "date-time"},
    "entry_count": {"type": "integer"},
    "categorization_failures": {"type": "integer"},
    "total_minutes": {"type": "integer"},
    "version": {"type": "integer"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["draft_id", "draft_key", "run_id", "range_start", "range_end", "entry_count", "version", "created_at"],
  "additionalProperties": false
}`

const draftStateChangedSchema = `{
  "type": "object",
  "title": "DraftStateChanged",
  "properties": {
    "draft_id": {"type": "string"},
    "draft_key": {"type": "string"},
    "state": {"type": "string", "enum": ["pending_review", "approved", "partially_submitted", "submitted"]},
    "previous_state": {"type": "string"},
    "version": {"type": "integer"},
    "approved_by": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["draft_id", "draft_key", "state", "previous_state", "version", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeDraftCreated:      {Schema: draftCreatedSchema},
	events.TypeDraftStateChanged: {Schema: draftStateChangedSchema},
}
