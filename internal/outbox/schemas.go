package outbox

// SchemaCatalogEntry maps an event type to its JSON schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"activity.recorded": {
		Schema: activityRecordedSchema,
	},
	"activity.state_changed": {
		Schema: activityStateChangedSchema,
	},
}

const activityRecordedSchema = `{
  "type": "object",
  "title": "ActivityRecorded",
  "properties": {
    "activity_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "sub_category": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "total_co2e_kg": {"type": "number", "minimum": 0},
    "factor_source": {"type": "string"},
    "version": {"type": "string"}
  },
  "required": ["activity_id", "tenant_id", "user_id", "activity_type", "sub_category", "occurred_at", "total_co2e_kg", "factor_source", "version"],
  "additionalProperties": false
}`

const activityStateChangedSchema = `{
  "type": "object",
  "title": "ActivityStateChanged",
  "properties": {
    "activity_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "state": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "reason": {"type": "string"}
  },
  "required": ["activity_id", "tenant_id", "user_id", "state", "occurred_at"],
  "additionalProperties": false
}`
