package mapping

import (
	"strings"
	"time"

	"gorm.io/datatypes"

	"notionsync/internal/models"
)

// Explicit validation and default rules for each cache write. Builders run
// defaults first, then validation, so rules see normalized values.

func ApplyTaskDefaults(task *models.CachedTask) {
	if task.TaskType != nil {
		normalized := strings.ToLower(strings.TrimSpace(*task.TaskType))
		if normalized == "" {
			task.TaskType = nil
		} else {
			task.TaskType = &normalized
		}
	}
	if task.Status != nil {
		trimmed := strings.TrimSpace(*task.Status)
		if trimmed == "" {
			task.Status = nil
		} else {
			task.Status = &trimmed
		}
	}
	// A dated task without an end runs for one day, keeping the half-open
	// interval convention intact.
	if task.EndDate == nil && task.StartDate != nil {
		end := task.StartDate.Add(24 * time.Hour)
		task.EndDate = &end
	}
	if len(task.AssigneeIDs) == 0 {
		task.AssigneeIDs = datatypes.JSON([]byte("[]"))
	}
}

func ValidateTask(task *models.CachedTask) error {
	if task.NotionID == "" {
		return rejectf(models.EntityTask, "notion_id", "missing page id")
	}
	if task.DailyHours.IsNegative() {
		return rejectf(models.EntityTask, "daily_hours", "must not be negative")
	}
	if task.BillableAmount != nil && task.BillableAmount.IsNegative() {
		return rejectf(models.EntityTask, "billable_amount", "must not be negative")
	}
	if task.StartDate != nil && task.EndDate != nil && task.EndDate.Before(*task.StartDate) {
		return rejectf(models.EntityTask, "end_date", "ends before it starts")
	}
	return nil
}

func ApplyProjectDefaults(project *models.CachedProject) {
	if project.Status != nil {
		trimmed := strings.TrimSpace(*project.Status)
		if trimmed == "" {
			project.Status = nil
		} else {
			project.Status = &trimmed
		}
	}
}

func ValidateProject(project *models.CachedProject) error {
	if project.NotionID == "" {
		return rejectf(models.EntityProject, "notion_id", "missing page id")
	}
	if project.Budget != nil && project.Budget.IsNegative() {
		return rejectf(models.EntityProject, "budget", "must not be negative")
	}
	return nil
}

func ApplyMemberDefaults(member *models.CachedMember) {
	if member.Email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*member.Email))
		if normalized == "" {
			member.Email = nil
		} else {
			member.Email = &normalized
		}
	}
}

func ValidateMember(member *models.CachedMember) error {
	if member.NotionID == "" {
		return rejectf(models.EntityMember, "notion_id", "missing page id")
	}
	if member.Email != nil && !strings.Contains(*member.Email, "@") {
		return rejectf(models.EntityMember, "email", "not an email address")
	}
	return nil
}

func ApplyTeamDefaults(team *models.CachedTeam) {
	team.Name = strings.TrimSpace(team.Name)
}

func ValidateTeam(team *models.CachedTeam) error {
	if team.NotionID == "" {
		return rejectf(models.EntityTeam, "notion_id", "missing page id")
	}
	return nil
}

func ApplyClientDefaults(client *models.CachedClient) {
	if client.ContactEmail != nil {
		normalized := strings.ToLower(strings.TrimSpace(*client.ContactEmail))
		if normalized == "" {
			client.ContactEmail = nil
		} else {
			client.ContactEmail = &normalized
		}
	}
}

func ValidateClient(client *models.CachedClient) error {
	if client.NotionID == "" {
		return rejectf(models.EntityClient, "notion_id", "missing page id")
	}
	if client.ContactEmail != nil && !strings.Contains(*client.ContactEmail, "@") {
		return rejectf(models.EntityClient, "contact_email", "not an email address")
	}
	if client.OutstandingAmount != nil && client.OutstandingAmount.IsNegative() {
		return rejectf(models.EntityClient, "outstanding_amount", "must not be negative")
	}
	return nil
}
