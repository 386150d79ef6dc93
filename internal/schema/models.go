package schema

import "time"

// EventSchema is the versioned contract payloads of an event type must
// satisfy. One document per (event_type, version) pair.
type EventSchema struct {
	ID                  string                   `json:"id" bson:"_id,omitempty"`
	EventType           string                   `json:"event_type" bson:"event_type"`
	Version             string                   `json:"version" bson:"version"`
	Description         string                   `json:"description,omitempty" bson:"description"`
	SchemaJSON          map[string]interface{}   `json:"schema_json" bson:"schema_json"`
	RequiredFields      []string                 `json:"required_fields" bson:"required_fields"`
	OptionalFields      []string                 `json:"optional_fields,omitempty" bson:"optional_fields"`
	BusinessRules       []string                 `json:"business_rules,omitempty" bson:"business_rules"`
	DataQualityRules    []string                 `json:"data_quality_rules,omitempty" bson:"data_quality_rules"`
	CompatibilityMatrix []string                 `json:"compatibility_matrix,omitempty" bson:"compatibility_matrix"`
	Examples            []map[string]interface{} `json:"examples,omitempty" bson:"examples"`
	Tags                []string                 `json:"tags,omitempty" bson:"tags"`
	Active              bool                     `json:"active" bson:"active"`
	Deprecated          bool                     `json:"deprecated" bson:"deprecated"`
	DeprecationDate     *time.Time               `json:"deprecation_date,omitempty" bson:"deprecation_date"`
	MigrationGuide      string                   `json:"migration_guide,omitempty" bson:"migration_guide"`
	UsageCount          int64                    `json:"usage_count" bson:"usage_count"`
	LastUsed            *time.Time               `json:"last_used,omitempty" bson:"last_used"`
	CreatedBy           string                   `json:"created_by,omitempty" bson:"created_by"`
	UpdatedBy           string                   `json:"updated_by,omitempty" bson:"updated_by"`
	CreatedAt           time.Time                `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at" bson:"updated_at"`
}

func (s *EventSchema) IsActive() bool {
	return s.Active && !s.Deprecated
}

// EligibleAt reports whether the schema may serve version-less
// resolution at the given time. A deprecation with a future effective
// date keeps the schema eligible until the date passes.
func (s *EventSchema) EligibleAt(now time.Time) bool {
	if !s.Active {
		return false
	}
	if !s.Deprecated {
		return true
	}
	return s.DeprecationDate != nil && now.Before(*s.DeprecationDate)
}

func (s *EventSchema) FullVersion() string {
	return s.EventType + "-" + s.Version
}

type RegisterSchemaRequest struct {
	EventType           string                   `json:"event_type" binding:"required"`
	Version             string                   `json:"version" binding:"required"`
	Description         string                   `json:"description"`
	SchemaJSON          map[string]interface{}   `json:"schema_json"`
	RequiredFields      []string                 `json:"required_fields"`
	OptionalFields      []string                 `json:"optional_fields"`
	BusinessRules       []string                 `json:"business_rules"`
	DataQualityRules    []string                 `json:"data_quality_rules"`
	CompatibilityMatrix []string                 `json:"compatibility_matrix"`
	Examples            []map[string]interface{} `json:"examples"`
	Tags                []string                 `json:"tags"`
	CreatedBy           string                   `json:"created_by"`
}

type DeprecateSchemaRequest struct {
	EffectiveDate  *time.Time `json:"effective_date"`
	MigrationGuide string     `json:"migration_guide"`
	UpdatedBy      string     `json:"updated_by"`
}

type SchemaUsageStats struct {
	EventType  string     `json:"event_type"`
	Version    string     `json:"version"`
	UsageCount int64      `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	Active     bool       `json:"active"`
	Deprecated bool       `json:"deprecated"`
}
