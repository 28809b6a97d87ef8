package mapping

import (
	"context"

	"notionsync/internal/models"
	"notionsync/internal/repository"
)

// DefaultMappings is the version-1 mapping set for a stock workspace
// layout. Operators with renamed Notion properties insert their own rows
// and bump mapping_version in sync_settings.
func DefaultMappings() []models.SchemaMapping {
	rows := []struct {
		entityType string
		key        string
		field      string
		transform  string
		required   bool
	}{
		{models.EntityTask, "Name", "title", models.TransformTitle, true},
		{models.EntityTask, "Status", "status", models.TransformStatus, false},
		{models.EntityTask, "Task Type", "task_type", models.TransformSelect, false},
		{models.EntityTask, "Date", "start_date", models.TransformDateStart, false},
		{models.EntityTask, "Date", "end_date", models.TransformDateEnd, false},
		{models.EntityTask, "Daily Hours", "daily_hours", models.TransformDecimal, false},
		{models.EntityTask, "Billable Amount", "billable_amount", models.TransformDecimal, false},
		{models.EntityTask, "Assignee", "assignee_ids", models.TransformPeopleIDs, false},
		{models.EntityTask, "Project", "project_id", models.TransformRelationIDs, false},

		{models.EntityProject, "Name", "name", models.TransformTitle, true},
		{models.EntityProject, "Status", "status", models.TransformSelect, false},
		{models.EntityProject, "Client", "client_id", models.TransformRelationIDs, false},
		{models.EntityProject, "Budget", "budget", models.TransformDecimal, false},

		{models.EntityMember, "Name", "name", models.TransformTitle, true},
		{models.EntityMember, "Email", "email", models.TransformEmail, false},
		{models.EntityMember, "Role", "role", models.TransformSelect, false},
		{models.EntityMember, "Team", "team_id", models.TransformRelationIDs, false},

		{models.EntityTeam, "Name", "name", models.TransformTitle, true},

		{models.EntityClient, "Name", "name", models.TransformTitle, true},
		{models.EntityClient, "Contact Email", "contact_email", models.TransformEmail, false},
		{models.EntityClient, "Outstanding Amount", "outstanding_amount", models.TransformDecimal, false},
	}

	out := make([]models.SchemaMapping, 0, len(rows))
	position := 0
	lastEntity := ""
	for _, row := range rows {
		if row.entityType != lastEntity {
			position = 0
			lastEntity = row.entityType
		}
		out = append(out, models.SchemaMapping{
			EntityType:    row.entityType,
			Version:       1,
			ExternalKey:   row.key,
			InternalField: row.field,
			Transform:     row.transform,
			Required:      row.required,
			Position:      position,
		})
		position++
	}
	return out
}

// EnsureDefaults seeds the version-1 rows on first boot. Existing rows are
// left alone.
func EnsureDefaults(ctx context.Context, repo repository.ConfigRepository) error {
	count, err := repo.CountSchemaMappings(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return repo.InsertSchemaMappings(ctx, DefaultMappings())
}
