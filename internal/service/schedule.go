package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"notionsync/internal/config"
	"notionsync/internal/events"
	"notionsync/internal/models"
	"notionsync/internal/repository"
)

// Bounds the per-day overload scan for open-ended tasks.
const maxOverloadScanDays = 92

// ScheduleService flags resource double-booking among cached tasks:
// interval overlaps, work planned over holidays or training, and days
// whose summed hours exceed the workday. Recomputing a task replaces its
// previously active conflicts in one transaction.
type ScheduleService struct {
	Store  repository.Repository
	Events *events.Hub
	Config config.ScheduleConfig
	Logger *zap.Logger
}

func (s *ScheduleService) workdayHours() decimal.Decimal {
	hours := s.Config.WorkdayHours
	if hours <= 0 {
		hours = 8
	}
	return decimal.NewFromInt(int64(hours))
}

// RecomputeForTask rebuilds the active conflict set of one task. Remote
// and telework tasks never conflict, so they clear their conflicts and
// produce none.
func (s *ScheduleService) RecomputeForTask(ctx context.Context, task *models.CachedTask) error {
	if s == nil || s.Store == nil || task == nil {
		return nil
	}
	if task.DeletedFromNotion || task.SchedulingExempt() || task.StartDate == nil || task.EndDate == nil {
		return s.Store.ReplaceTaskSchedulingConflicts(ctx, task.NotionID, nil)
	}
	assignees := decodeAssignees(task.AssigneeIDs)
	if len(assignees) == 0 {
		return s.Store.ReplaceTaskSchedulingConflicts(ctx, task.NotionID, nil)
	}

	now := time.Now().UTC()
	items := make([]models.SchedulingConflict, 0)
	for _, memberID := range assignees {
		others, err := s.Store.ListMemberTasksOverlapping(ctx, memberID, *task.StartDate, *task.EndDate, task.NotionID)
		if err != nil {
			return err
		}
		candidates := make([]models.CachedTask, 0, len(others))
		for _, other := range others {
			if other.SchedulingExempt() {
				continue
			}
			candidates = append(candidates, other)
			conflictType, severity := classifyOverlap(&other)
			conflictingID := other.NotionID
			detail := fmt.Sprintf("overlaps %q (%s)", other.Title, intervalString(&other))
			items = append(items, models.SchedulingConflict{
				TaskID:            task.NotionID,
				MemberID:          memberID,
				ConflictingTaskID: &conflictingID,
				ConflictType:      conflictType,
				Severity:          severity,
				Status:            models.ScheduleStatusActive,
				Detail:            &detail,
				DetectedAt:        now,
			})
		}
		if day, total, overloaded := s.findOverloadDay(task, candidates); overloaded {
			overloadDay := day
			detail := fmt.Sprintf("daily load %s hours exceeds workday of %s", total.StringFixed(2), s.workdayHours().StringFixed(0))
			items = append(items, models.SchedulingConflict{
				TaskID:       task.NotionID,
				MemberID:     memberID,
				ConflictType: models.ScheduleConflictOverload,
				Severity:     models.SeverityLow,
				Status:       models.ScheduleStatusActive,
				Day:          &overloadDay,
				Detail:       &detail,
				DetectedAt:   now,
			})
		}
	}

	if err := s.Store.ReplaceTaskSchedulingConflicts(ctx, task.NotionID, items); err != nil {
		return err
	}
	if len(items) > 0 {
		if s.Logger != nil {
			s.Logger.Info("scheduling conflicts recomputed",
				zap.String("task_id", task.NotionID),
				zap.Int("conflicts", len(items)),
			)
		}
		if s.Events != nil {
			s.Events.Publish(events.Event{
				Type:       events.TypeScheduleConflict,
				EntityType: models.EntityTask,
				NotionID:   task.NotionID,
				Detail:     fmt.Sprintf("%d active conflicts", len(items)),
			})
		}
	}
	return nil
}

// classifyOverlap derives type and severity from the other task's type.
func classifyOverlap(other *models.CachedTask) (string, string) {
	switch taskTypeOf(other) {
	case models.TaskTypeHoliday:
		return models.ScheduleConflictHoliday, models.SeverityHigh
	case models.TaskTypeSchool:
		return models.ScheduleConflictSchool, models.SeverityMedium
	}
	return models.ScheduleConflictOverlap, models.SeverityMedium
}

// findOverloadDay walks the task's span day by day and returns the first
// day whose summed hours, task included, exceed the workday.
func (s *ScheduleService) findOverloadDay(task *models.CachedTask, others []models.CachedTask) (time.Time, decimal.Decimal, bool) {
	workday := s.workdayHours()
	day := truncateToDay(*task.StartDate)
	for scanned := 0; day.Before(*task.EndDate) && scanned < maxOverloadScanDays; scanned++ {
		nextDay := day.Add(24 * time.Hour)
		total := task.DailyHours
		for _, other := range others {
			if other.StartDate == nil || other.EndDate == nil {
				continue
			}
			if other.StartDate.Before(nextDay) && other.EndDate.After(day) {
				total = total.Add(other.DailyHours)
			}
		}
		if total.GreaterThan(workday) {
			return day, total, true
		}
		day = nextDay
	}
	return time.Time{}, decimal.Zero, false
}

func (s *ScheduleService) List(ctx context.Context, params repository.ListSchedulingConflictsParams) ([]models.SchedulingConflict, int64, error) {
	if s == nil || s.Store == nil {
		return nil, 0, nil
	}
	items, err := s.Store.ListSchedulingConflicts(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Store.CountSchedulingConflicts(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SetStatus moves a conflict between active, resolved and ignored.
func (s *ScheduleService) SetStatus(ctx context.Context, id uint64, status string) error {
	if s == nil || s.Store == nil {
		return nil
	}
	switch status {
	case models.ScheduleStatusActive:
		return s.Store.UpdateSchedulingConflictStatus(ctx, id, status, nil)
	case models.ScheduleStatusResolved, models.ScheduleStatusIgnored:
		now := time.Now().UTC()
		return s.Store.UpdateSchedulingConflictStatus(ctx, id, status, &now)
	}
	return fmt.Errorf("unknown scheduling conflict status %q", status)
}

func decodeAssignees(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func taskTypeOf(task *models.CachedTask) string {
	if task == nil || task.TaskType == nil {
		return ""
	}
	return *task.TaskType
}

func truncateToDay(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

func intervalString(task *models.CachedTask) string {
	if task.StartDate == nil || task.EndDate == nil {
		return "undated"
	}
	return task.StartDate.UTC().Format("2006-01-02 15:04") + " to " + task.EndDate.UTC().Format("2006-01-02 15:04")
}
