package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"notionsync/internal/client/notion"
	"notionsync/internal/config"
	"notionsync/internal/models"
)

// fakeNotion serves pages from memory; queries replay scripted batches
// with cursor pagination.
type fakeNotion struct {
	mu       sync.Mutex
	pages    map[string]*notion.Page
	pageErr  map[string]error
	batches  [][]notion.Page
	queryErr map[string]error
	queries  int
	database *notion.Database
}

func (f *fakeNotion) GetPage(ctx context.Context, pageID string) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pageErr[pageID]; err != nil {
		return nil, err
	}
	if page, ok := f.pages[pageID]; ok {
		out := *page
		return &out, nil
	}
	return nil, &notion.APIError{Status: http.StatusNotFound, Code: "object_not_found", Message: pageID}
}

func (f *fakeNotion) QueryDatabase(ctx context.Context, databaseID, cursor string, pageSize int) (*notion.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.queryErr[databaseID]; err != nil {
		return nil, err
	}
	idx := f.queries
	f.queries++
	if idx >= len(f.batches) {
		return &notion.QueryResult{}, nil
	}
	result := &notion.QueryResult{Results: f.batches[idx]}
	if idx < len(f.batches)-1 {
		result.HasMore = true
		result.NextCursor = fmt.Sprintf("cursor-%d", idx+1)
	}
	return result, nil
}

func (f *fakeNotion) GetDatabase(ctx context.Context, databaseID string) (*notion.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.database == nil {
		return nil, &notion.APIError{Status: http.StatusNotFound, Code: "object_not_found", Message: databaseID}
	}
	return f.database, nil
}

// newTestEngine wires a full engine over the stub repo with settings rows
// for every entity type.
func newTestEngine(t *testing.T, repo *stubRepo, api NotionAPI) *SyncEngine {
	t.Helper()
	mapper := newLoadedMapper(t, repo)
	for _, entityType := range models.AllEntityTypes() {
		seedSetting(repo, entityType)
	}
	return &SyncEngine{
		Store:   repo,
		Notion:  api,
		Mapper:  mapper,
		Breaker: newTestBreaker(repo),
		Conflicts: &ConflictService{
			Store:  repo,
			Mapper: mapper,
			Config: config.Config{Sync: config.SyncConfig{DefaultCacheTTL: time.Hour}},
			Logger: zap.NewNop(),
		},
		Schedule: newTestSchedule(repo),
		Settings: &SyncSettingsService{
			Repo:   repo,
			Config: config.Config{Sync: config.SyncConfig{DefaultPollingInterval: 15 * time.Minute}},
			Logger: zap.NewNop(),
		},
		Config: config.SyncConfig{PageSize: 100, BatchSize: 2, DefaultCacheTTL: time.Hour},
		Logger: zap.NewNop(),
	}
}

func TestSyncPage_RoundTrip(t *testing.T) {
	repo := newStubRepo()
	edited := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeNotion{pages: map[string]*notion.Page{
		"t1": taskPage("t1", "Quarterly report", edited),
	}}
	engine := newTestEngine(t, repo, api)

	if err := engine.SyncPage(context.Background(), models.EntityTask, "t1", models.SyncMethodManual); err != nil {
		t.Fatalf("err=%v", err)
	}
	task := repo.tasks["t1"]
	if task == nil {
		t.Fatalf("task not cached")
	}
	if task.Title != "Quarterly report" {
		t.Fatalf("title=%q", task.Title)
	}
	if task.LastEditedAt == nil || !task.LastEditedAt.Equal(edited) {
		t.Fatalf("last_edited_at=%v want %v", task.LastEditedAt, edited)
	}
	if task.LastSyncAt.IsZero() {
		t.Fatalf("last_sync_at not stamped")
	}
	if until := time.Until(task.ExpiresAt); until < 50*time.Minute || until > 70*time.Minute {
		t.Fatalf("expires in %v, want ~1h", until)
	}
	if len(repo.logs) != 1 {
		t.Fatalf("logs=%d want 1", len(repo.logs))
	}
	log := repo.logs[0]
	if log.Status != models.SyncStatusSuccess || log.Method != models.SyncMethodManual || log.ItemsProcessed != 1 {
		t.Fatalf("log=%+v", log)
	}
}

func TestSyncPage_BreakerOpenSkips(t *testing.T) {
	repo := newStubRepo()
	api := &fakeNotion{pages: map[string]*notion.Page{
		"t1": taskPage("t1", "Quarterly report", time.Now().UTC()),
	}}
	engine := newTestEngine(t, repo, api)
	future := time.Now().UTC().Add(time.Hour)
	repo.settings[models.EntityTask].IsOpen = true
	repo.settings[models.EntityTask].FailureCount = 3
	repo.settings[models.EntityTask].ReopenAt = &future

	if err := engine.SyncPage(context.Background(), models.EntityTask, "t1", models.SyncMethodWebhook); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.tasks) != 0 {
		t.Fatalf("cache written while circuit open")
	}
	if len(repo.logs) != 0 {
		t.Fatalf("logs=%d, a skipped sync is not a run", len(repo.logs))
	}
}

func TestSyncPage_MissingRemoteTombstones(t *testing.T) {
	repo := newStubRepo()
	api := &fakeNotion{}
	engine := newTestEngine(t, repo, api)
	repo.tasks["t1"] = &models.CachedTask{NotionID: "t1", Title: "gone"}
	repo.schedules = append(repo.schedules, &models.SchedulingConflict{ID: 1, TaskID: "t1", MemberID: "m1", Status: models.ScheduleStatusActive})

	if err := engine.SyncPage(context.Background(), models.EntityTask, "t1", models.SyncMethodWebhook); err != nil {
		t.Fatalf("err=%v", err)
	}
	if !repo.tasks["t1"].DeletedFromNotion {
		t.Fatalf("missing page must tombstone the row")
	}
	if len(repo.schedules) != 0 {
		t.Fatalf("scheduling conflicts survive the tombstone")
	}
	if len(repo.logs) != 1 || repo.logs[0].Status != models.SyncStatusSuccess {
		t.Fatalf("logs=%+v", repo.logs)
	}
}

func TestSyncPage_ArchivedTombstones(t *testing.T) {
	repo := newStubRepo()
	page := taskPage("t1", "Archived task", time.Now().UTC())
	page.Archived = true
	api := &fakeNotion{pages: map[string]*notion.Page{"t1": page}}
	engine := newTestEngine(t, repo, api)
	repo.tasks["t1"] = &models.CachedTask{NotionID: "t1", Title: "Archived task"}

	if err := engine.SyncPage(context.Background(), models.EntityTask, "t1", models.SyncMethodPolling); err != nil {
		t.Fatalf("err=%v", err)
	}
	if !repo.tasks["t1"].DeletedFromNotion {
		t.Fatalf("archived page must tombstone the row")
	}
}

func TestSyncPage_ConflictBlocksWrite(t *testing.T) {
	repo := newStubRepo()
	lastSync := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	localEdit := lastSync.Add(time.Hour)
	remoteEdit := lastSync.Add(2 * time.Hour)
	api := &fakeNotion{pages: map[string]*notion.Page{
		"t1": taskPage("t1", "remote title", remoteEdit),
	}}
	engine := newTestEngine(t, repo, api)
	repo.tasks["t1"] = &models.CachedTask{
		NotionID:      "t1",
		Title:         "local title",
		LastSyncAt:    lastSync,
		LocalEditedAt: &localEdit,
	}

	if err := engine.SyncPage(context.Background(), models.EntityTask, "t1", models.SyncMethodPolling); err != nil {
		t.Fatalf("err=%v", err)
	}
	if repo.tasks["t1"].Title != "local title" {
		t.Fatalf("title=%q, conflicted row must not be overwritten", repo.tasks["t1"].Title)
	}
	if len(repo.conflicts) != 1 {
		t.Fatalf("conflicts=%d want 1", len(repo.conflicts))
	}
	if len(repo.logs) != 1 || repo.logs[0].Conflicts != 1 || repo.logs[0].ItemsProcessed != 0 {
		t.Fatalf("log=%+v", repo.logs)
	}
}

func TestSyncPage_RemoteFailureTripsBreaker(t *testing.T) {
	repo := newStubRepo()
	api := &fakeNotion{pageErr: map[string]error{
		"t1": &notion.APIError{Status: http.StatusBadGateway, Message: "upstream"},
	}}
	engine := newTestEngine(t, repo, api)

	for i := 0; i < 3; i++ {
		if err := engine.SyncPage(context.Background(), models.EntityTask, "t1", models.SyncMethodWebhook); err == nil {
			t.Fatalf("remote 502 swallowed")
		}
	}
	if !repo.settings[models.EntityTask].IsOpen {
		t.Fatalf("three remote failures must open the circuit")
	}
	// Fourth attempt is a silent skip.
	if err := engine.SyncPage(context.Background(), models.EntityTask, "t1", models.SyncMethodWebhook); err != nil {
		t.Fatalf("err=%v while open, want nil", err)
	}
}

func TestSyncDatabase_PaginatesAndIsolatesFailures(t *testing.T) {
	repo := newStubRepo()
	edited := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bad := &notion.Page{ID: "t-bad", LastEditedTime: edited, Properties: map[string]notion.Property{}}
	archived := taskPage("t-archived", "old", edited)
	archived.Archived = true
	api := &fakeNotion{batches: [][]notion.Page{
		{*taskPage("t1", "one", edited), *bad},
		{*taskPage("t2", "two", edited), *archived},
	}}
	engine := newTestEngine(t, repo, api)
	repo.tasks["t-archived"] = &models.CachedTask{NotionID: "t-archived", Title: "old"}

	report, err := engine.SyncDatabase(context.Background(), models.EntityTask, models.SyncMethodPolling)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if report.Pages != 2 {
		t.Fatalf("pages=%d want 2", report.Pages)
	}
	if report.Processed != 2 || report.Failed != 1 || report.Tombstoned != 1 {
		t.Fatalf("processed=%d failed=%d tombstoned=%d want 2/1/1", report.Processed, report.Failed, report.Tombstoned)
	}
	if report.Status != models.SyncStatusPartial {
		t.Fatalf("status=%q want partial", report.Status)
	}
	if repo.tasks["t1"] == nil || repo.tasks["t2"] == nil {
		t.Fatalf("good pages not cached")
	}
	if !repo.tasks["t-archived"].DeletedFromNotion {
		t.Fatalf("archived page not tombstoned")
	}
	setting := repo.settings[models.EntityTask]
	if setting.LastPollingSyncAt == nil || setting.NextScheduledSyncAt == nil {
		t.Fatalf("sync stamps missing: %+v", setting)
	}
}

func TestSyncDatabase_BreakerOpenReportsSkip(t *testing.T) {
	repo := newStubRepo()
	api := &fakeNotion{}
	engine := newTestEngine(t, repo, api)
	future := time.Now().UTC().Add(time.Hour)
	repo.settings[models.EntityTask].IsOpen = true
	repo.settings[models.EntityTask].ReopenAt = &future

	report, err := engine.SyncDatabase(context.Background(), models.EntityTask, models.SyncMethodPolling)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !report.Skipped || report.Status != "skipped" {
		t.Fatalf("report=%+v want skipped", report)
	}
	if api.queries != 0 {
		t.Fatalf("queries=%d, open circuit must not call out", api.queries)
	}
}

func TestSyncDatabase_NoSettingIsSetupError(t *testing.T) {
	repo := newStubRepo()
	api := &fakeNotion{}
	engine := newTestEngine(t, repo, api)
	delete(repo.settings, models.EntityClient)

	if _, err := engine.SyncDatabase(context.Background(), models.EntityClient, models.SyncMethodManual); err == nil {
		t.Fatalf("err=nil, want setup error without an active setting")
	}
	if api.queries != 0 {
		t.Fatalf("queries=%d want 0", api.queries)
	}
}

func TestSyncAll_SkipsUnconfigured(t *testing.T) {
	repo := newStubRepo()
	api := &fakeNotion{}
	engine := newTestEngine(t, repo, api)
	for _, entityType := range models.AllEntityTypes() {
		if entityType != models.EntityTask {
			delete(repo.settings, entityType)
		}
	}

	reports := engine.SyncAll(context.Background(), models.SyncMethodInitial)
	if len(reports) != 1 {
		t.Fatalf("reports=%d want 1", len(reports))
	}
	if reports[0].EntityType != models.EntityTask || reports[0].Status != models.SyncStatusSuccess {
		t.Fatalf("report=%+v", reports[0])
	}
}
