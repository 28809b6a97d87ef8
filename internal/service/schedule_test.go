package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"notionsync/internal/config"
	"notionsync/internal/models"
)

func schedTask(id string, assignees []string, start, end time.Time, hours float64, taskType string) *models.CachedTask {
	ids, _ := json.Marshal(assignees)
	task := &models.CachedTask{
		NotionID:    id,
		Title:       "task " + id,
		StartDate:   &start,
		EndDate:     &end,
		DailyHours:  decimal.NewFromFloat(hours),
		AssigneeIDs: datatypes.JSON(ids),
	}
	if taskType != "" {
		task.TaskType = &taskType
	}
	return task
}

func newTestSchedule(repo *stubRepo) *ScheduleService {
	return &ScheduleService{
		Store:  repo,
		Config: config.ScheduleConfig{WorkdayHours: 8},
		Logger: zap.NewNop(),
	}
}

func TestRecomputeForTask_Overlap(t *testing.T) {
	repo := newStubRepo()
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	a := schedTask("task-a", []string{"m1"}, day.Add(9*time.Hour), day.Add(11*time.Hour), 2, "")
	b := schedTask("task-b", []string{"m1"}, day.Add(10*time.Hour), day.Add(12*time.Hour), 2, "")
	repo.tasks[a.NotionID] = a
	repo.tasks[b.NotionID] = b

	svc := newTestSchedule(repo)
	if err := svc.RecomputeForTask(context.Background(), a); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.schedules) != 1 {
		t.Fatalf("conflicts=%d want 1", len(repo.schedules))
	}
	got := repo.schedules[0]
	if got.ConflictType != models.ScheduleConflictOverlap || got.Severity != models.SeverityMedium {
		t.Fatalf("type=%q severity=%q want overlap/medium", got.ConflictType, got.Severity)
	}
	if got.ConflictingTaskID == nil || *got.ConflictingTaskID != "task-b" {
		t.Fatalf("conflicting_task_id=%v want task-b", got.ConflictingTaskID)
	}
	if got.MemberID != "m1" || got.Status != models.ScheduleStatusActive {
		t.Fatalf("member=%q status=%q", got.MemberID, got.Status)
	}
}

func TestRecomputeForTask_BackToBackIsNoConflict(t *testing.T) {
	repo := newStubRepo()
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	a := schedTask("task-a", []string{"m1"}, day.Add(9*time.Hour), day.Add(11*time.Hour), 2, "")
	b := schedTask("task-b", []string{"m1"}, day.Add(11*time.Hour), day.Add(13*time.Hour), 2, "")
	repo.tasks[a.NotionID] = a
	repo.tasks[b.NotionID] = b

	svc := newTestSchedule(repo)
	if err := svc.RecomputeForTask(context.Background(), a); err != nil {
		t.Fatalf("err=%v", err)
	}
	// [9,11) against [11,13): the shared boundary instant is not overlap.
	if len(repo.schedules) != 0 {
		t.Fatalf("conflicts=%d want 0", len(repo.schedules))
	}
}

func TestRecomputeForTask_HolidayIsHigh(t *testing.T) {
	repo := newStubRepo()
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	work := schedTask("task-work", []string{"m1"}, day.Add(9*time.Hour), day.Add(17*time.Hour), 4, "")
	leave := schedTask("task-leave", []string{"m1"}, day, day.Add(24*time.Hour), 0, models.TaskTypeHoliday)
	repo.tasks[work.NotionID] = work
	repo.tasks[leave.NotionID] = leave

	svc := newTestSchedule(repo)
	if err := svc.RecomputeForTask(context.Background(), work); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.schedules) != 1 {
		t.Fatalf("conflicts=%d want 1", len(repo.schedules))
	}
	got := repo.schedules[0]
	if got.ConflictType != models.ScheduleConflictHoliday || got.Severity != models.SeverityHigh {
		t.Fatalf("type=%q severity=%q want holiday/high", got.ConflictType, got.Severity)
	}
}

func TestRecomputeForTask_ExemptTaskClearsItsConflicts(t *testing.T) {
	repo := newStubRepo()
	stale := &models.SchedulingConflict{ID: 1, TaskID: "task-r", MemberID: "m1", ConflictType: models.ScheduleConflictOverlap, Severity: models.SeverityMedium, Status: models.ScheduleStatusActive}
	ignored := &models.SchedulingConflict{ID: 2, TaskID: "task-r", MemberID: "m1", ConflictType: models.ScheduleConflictOverlap, Severity: models.SeverityMedium, Status: models.ScheduleStatusIgnored}
	repo.schedules = append(repo.schedules, stale, ignored)

	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	remote := schedTask("task-r", []string{"m1"}, day.Add(9*time.Hour), day.Add(17*time.Hour), 8, models.TaskTypeRemote)
	repo.tasks[remote.NotionID] = remote

	svc := newTestSchedule(repo)
	if err := svc.RecomputeForTask(context.Background(), remote); err != nil {
		t.Fatalf("err=%v", err)
	}
	// The active row is replaced away; the operator-ignored one stays.
	if len(repo.schedules) != 1 || repo.schedules[0].Status != models.ScheduleStatusIgnored {
		t.Fatalf("schedules=%d, remote work must clear only active rows", len(repo.schedules))
	}
}

func TestRecomputeForTask_ExemptOtherSkipped(t *testing.T) {
	repo := newStubRepo()
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	work := schedTask("task-work", []string{"m1"}, day.Add(9*time.Hour), day.Add(17*time.Hour), 4, "")
	telework := schedTask("task-tw", []string{"m1"}, day.Add(9*time.Hour), day.Add(17*time.Hour), 8, models.TaskTypeTelework)
	repo.tasks[work.NotionID] = work
	repo.tasks[telework.NotionID] = telework

	svc := newTestSchedule(repo)
	if err := svc.RecomputeForTask(context.Background(), work); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.schedules) != 0 {
		t.Fatalf("conflicts=%d, telework must not double-book", len(repo.schedules))
	}
}

func TestRecomputeForTask_OverloadDay(t *testing.T) {
	repo := newStubRepo()
	day1 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	day3 := day1.Add(48 * time.Hour)
	long := schedTask("task-long", []string{"m1"}, day1, day3, 5, "")
	extra := schedTask("task-extra", []string{"m1"}, day2, day3, 4, "")
	repo.tasks[long.NotionID] = long
	repo.tasks[extra.NotionID] = extra

	svc := newTestSchedule(repo)
	if err := svc.RecomputeForTask(context.Background(), long); err != nil {
		t.Fatalf("err=%v", err)
	}
	var overlap, overload *models.SchedulingConflict
	for _, row := range repo.schedules {
		switch row.ConflictType {
		case models.ScheduleConflictOverlap:
			overlap = row
		case models.ScheduleConflictOverload:
			overload = row
		}
	}
	if overlap == nil {
		t.Fatalf("interval overlap missing")
	}
	if overload == nil {
		t.Fatalf("overload missing: 5h+4h on day two exceeds the 8h workday")
	}
	if overload.Severity != models.SeverityLow {
		t.Fatalf("overload severity=%q want low", overload.Severity)
	}
	if overload.Day == nil || !overload.Day.Equal(day2) {
		t.Fatalf("overload day=%v want %v", overload.Day, day2)
	}
}

func TestRecomputeForTask_ReplacesActiveSet(t *testing.T) {
	repo := newStubRepo()
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	a := schedTask("task-a", []string{"m1"}, day.Add(9*time.Hour), day.Add(11*time.Hour), 2, "")
	b := schedTask("task-b", []string{"m1"}, day.Add(10*time.Hour), day.Add(12*time.Hour), 2, "")
	repo.tasks[a.NotionID] = a
	repo.tasks[b.NotionID] = b

	svc := newTestSchedule(repo)
	if err := svc.RecomputeForTask(context.Background(), a); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.schedules) != 1 {
		t.Fatalf("conflicts=%d want 1", len(repo.schedules))
	}

	// The colliding task moves to the afternoon; recompute leaves nothing.
	moved := schedTask("task-b", []string{"m1"}, day.Add(13*time.Hour), day.Add(15*time.Hour), 2, "")
	repo.tasks[moved.NotionID] = moved
	if err := svc.RecomputeForTask(context.Background(), a); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.schedules) != 0 {
		t.Fatalf("conflicts=%d want 0 after recompute", len(repo.schedules))
	}
}

func TestScheduleSetStatus(t *testing.T) {
	repo := newStubRepo()
	repo.schedules = append(repo.schedules, &models.SchedulingConflict{ID: 7, TaskID: "task-a", MemberID: "m1", Status: models.ScheduleStatusActive})

	svc := newTestSchedule(repo)
	if err := svc.SetStatus(context.Background(), 7, models.ScheduleStatusIgnored); err != nil {
		t.Fatalf("err=%v", err)
	}
	if repo.schedules[0].Status != models.ScheduleStatusIgnored || repo.schedules[0].ResolvedAt == nil {
		t.Fatalf("status=%q resolved_at=%v", repo.schedules[0].Status, repo.schedules[0].ResolvedAt)
	}

	if err := svc.SetStatus(context.Background(), 7, models.ScheduleStatusActive); err != nil {
		t.Fatalf("err=%v", err)
	}
	if repo.schedules[0].ResolvedAt != nil {
		t.Fatalf("reactivating must clear resolved_at")
	}

	if err := svc.SetStatus(context.Background(), 7, "nonsense"); err == nil {
		t.Fatalf("unknown status accepted")
	}
}
