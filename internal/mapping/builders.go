package mapping

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"notionsync/internal/client/notion"
	"notionsync/internal/models"
)

// BuildTask maps a page through the active task rules into a cache row.
// Sync stamps (last_sync_at, expires_at) are left for the engine to fill.
func (m *Mapper) BuildTask(page *notion.Page) (*models.CachedTask, error) {
	rules := m.Rules(models.EntityTask)
	if len(rules) == 0 {
		return nil, rejectf(models.EntityTask, "", "no mapping rules loaded")
	}
	lastEdited := page.LastEditedTime
	task := &models.CachedTask{NotionID: page.ID, LastEditedAt: &lastEdited}
	for _, rule := range rules {
		value, ok, err := extract(models.EntityTask, page, rule)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := setTaskField(task, rule.InternalField, value); err != nil {
			return nil, err
		}
	}
	ApplyTaskDefaults(task)
	if err := ValidateTask(task); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode raw page: %w", err)
	}
	task.RawJSON = raw
	return task, nil
}

func (m *Mapper) BuildProject(page *notion.Page) (*models.CachedProject, error) {
	rules := m.Rules(models.EntityProject)
	if len(rules) == 0 {
		return nil, rejectf(models.EntityProject, "", "no mapping rules loaded")
	}
	lastEdited := page.LastEditedTime
	project := &models.CachedProject{NotionID: page.ID, LastEditedAt: &lastEdited}
	for _, rule := range rules {
		value, ok, err := extract(models.EntityProject, page, rule)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := setProjectField(project, rule.InternalField, value); err != nil {
			return nil, err
		}
	}
	ApplyProjectDefaults(project)
	if err := ValidateProject(project); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode raw page: %w", err)
	}
	project.RawJSON = raw
	return project, nil
}

func (m *Mapper) BuildMember(page *notion.Page) (*models.CachedMember, error) {
	rules := m.Rules(models.EntityMember)
	if len(rules) == 0 {
		return nil, rejectf(models.EntityMember, "", "no mapping rules loaded")
	}
	lastEdited := page.LastEditedTime
	member := &models.CachedMember{NotionID: page.ID, LastEditedAt: &lastEdited}
	for _, rule := range rules {
		value, ok, err := extract(models.EntityMember, page, rule)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := setMemberField(member, rule.InternalField, value); err != nil {
			return nil, err
		}
	}
	ApplyMemberDefaults(member)
	if err := ValidateMember(member); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode raw page: %w", err)
	}
	member.RawJSON = raw
	return member, nil
}

func (m *Mapper) BuildTeam(page *notion.Page) (*models.CachedTeam, error) {
	rules := m.Rules(models.EntityTeam)
	if len(rules) == 0 {
		return nil, rejectf(models.EntityTeam, "", "no mapping rules loaded")
	}
	lastEdited := page.LastEditedTime
	team := &models.CachedTeam{NotionID: page.ID, LastEditedAt: &lastEdited}
	for _, rule := range rules {
		value, ok, err := extract(models.EntityTeam, page, rule)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := setTeamField(team, rule.InternalField, value); err != nil {
			return nil, err
		}
	}
	ApplyTeamDefaults(team)
	if err := ValidateTeam(team); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode raw page: %w", err)
	}
	team.RawJSON = raw
	return team, nil
}

func (m *Mapper) BuildClient(page *notion.Page) (*models.CachedClient, error) {
	rules := m.Rules(models.EntityClient)
	if len(rules) == 0 {
		return nil, rejectf(models.EntityClient, "", "no mapping rules loaded")
	}
	lastEdited := page.LastEditedTime
	client := &models.CachedClient{NotionID: page.ID, LastEditedAt: &lastEdited}
	for _, rule := range rules {
		value, ok, err := extract(models.EntityClient, page, rule)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := setClientField(client, rule.InternalField, value); err != nil {
			return nil, err
		}
	}
	ApplyClientDefaults(client)
	if err := ValidateClient(client); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode raw page: %w", err)
	}
	client.RawJSON = raw
	return client, nil
}

// extract pulls one property through its transform. The middle return is
// false when an optional property is absent and the field should keep its
// zero value.
func extract(entityType string, page *notion.Page, rule models.SchemaMapping) (any, bool, error) {
	prop, ok := page.Properties[rule.ExternalKey]
	if !ok {
		if rule.Required {
			return nil, false, rejectf(entityType, rule.ExternalKey, "required property missing")
		}
		return nil, false, nil
	}
	value, err := applyTransform(rule.Transform, prop)
	if err != nil {
		return nil, false, rejectf(entityType, rule.ExternalKey, "%v", err)
	}
	return value, true, nil
}

func setTaskField(task *models.CachedTask, field string, value any) error {
	switch field {
	case "title":
		s, ok := asString(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.Title = s
	case "status":
		p, ok := asStringPtr(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.Status = p
	case "task_type":
		p, ok := asStringPtr(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.TaskType = p
	case "start_date":
		ts, ok := asTimePtr(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.StartDate = ts
	case "end_date":
		ts, ok := asTimePtr(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.EndDate = ts
	case "daily_hours":
		d, ok := asDecimal(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.DailyHours = d
	case "billable_amount":
		d, ok := asDecimalPtr(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.BillableAmount = d
	case "assignee_ids":
		list, ok := asStrings(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		if list == nil {
			list = []string{}
		}
		encoded, err := json.Marshal(list)
		if err != nil {
			return rejectf(models.EntityTask, field, "%v", err)
		}
		task.AssigneeIDs = datatypes.JSON(encoded)
	case "project_id":
		p, ok := asFirstString(value)
		if !ok {
			return typeReject(models.EntityTask, field, value)
		}
		task.ProjectID = p
	default:
		return rejectf(models.EntityTask, field, "unknown internal field")
	}
	return nil
}

func setProjectField(project *models.CachedProject, field string, value any) error {
	switch field {
	case "name":
		s, ok := asString(value)
		if !ok {
			return typeReject(models.EntityProject, field, value)
		}
		project.Name = s
	case "status":
		p, ok := asStringPtr(value)
		if !ok {
			return typeReject(models.EntityProject, field, value)
		}
		project.Status = p
	case "client_id":
		p, ok := asFirstString(value)
		if !ok {
			return typeReject(models.EntityProject, field, value)
		}
		project.ClientID = p
	case "budget":
		d, ok := asDecimalPtr(value)
		if !ok {
			return typeReject(models.EntityProject, field, value)
		}
		project.Budget = d
	default:
		return rejectf(models.EntityProject, field, "unknown internal field")
	}
	return nil
}

func setMemberField(member *models.CachedMember, field string, value any) error {
	switch field {
	case "name":
		s, ok := asString(value)
		if !ok {
			return typeReject(models.EntityMember, field, value)
		}
		member.Name = s
	case "email":
		p, ok := asStringPtr(value)
		if !ok {
			return typeReject(models.EntityMember, field, value)
		}
		member.Email = p
	case "role":
		p, ok := asStringPtr(value)
		if !ok {
			return typeReject(models.EntityMember, field, value)
		}
		member.Role = p
	case "team_id":
		p, ok := asFirstString(value)
		if !ok {
			return typeReject(models.EntityMember, field, value)
		}
		member.TeamID = p
	default:
		return rejectf(models.EntityMember, field, "unknown internal field")
	}
	return nil
}

func setTeamField(team *models.CachedTeam, field string, value any) error {
	switch field {
	case "name":
		s, ok := asString(value)
		if !ok {
			return typeReject(models.EntityTeam, field, value)
		}
		team.Name = s
	default:
		return rejectf(models.EntityTeam, field, "unknown internal field")
	}
	return nil
}

func setClientField(client *models.CachedClient, field string, value any) error {
	switch field {
	case "name":
		s, ok := asString(value)
		if !ok {
			return typeReject(models.EntityClient, field, value)
		}
		client.Name = s
	case "contact_email":
		p, ok := asStringPtr(value)
		if !ok {
			return typeReject(models.EntityClient, field, value)
		}
		client.ContactEmail = p
	case "outstanding_amount":
		d, ok := asDecimalPtr(value)
		if !ok {
			return typeReject(models.EntityClient, field, value)
		}
		client.OutstandingAmount = d
	default:
		return rejectf(models.EntityClient, field, "unknown internal field")
	}
	return nil
}

func typeReject(entityType, field string, value any) *MappingError {
	return rejectf(entityType, field, "unexpected value type %T", value)
}
