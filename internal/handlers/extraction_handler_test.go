package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// mockFactService implements interfaces.FactService for testing.
type mockFactService struct {
	extractFunc   func(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, level int) (*models.ExtractionRun, error)
	upgradeFunc   func(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, targetLevel int) (*models.ExtractionRun, error)
	listFactsFunc func(ctx context.Context, tc models.TenantContext, versionID, processContext string) (*models.FactBundle, error)
	listRunsFunc  func(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.ExtractionRun, error)
}

func (m *mockFactService) ExtractFacts(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, level int) (*models.ExtractionRun, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, tenantID, versionID, profile, processContext, level)
	}
	return nil, nil
}

func (m *mockFactService) UpgradeLevel(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, targetLevel int) (*models.ExtractionRun, error) {
	if m.upgradeFunc != nil {
		return m.upgradeFunc(ctx, tenantID, versionID, profile, processContext, targetLevel)
	}
	return nil, nil
}

func (m *mockFactService) ListFacts(ctx context.Context, tc models.TenantContext, versionID, processContext string) (*models.FactBundle, error) {
	if m.listFactsFunc != nil {
		return m.listFactsFunc(ctx, tc, versionID, processContext)
	}
	return &models.FactBundle{}, nil
}

func (m *mockFactService) ListRuns(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.ExtractionRun, error) {
	if m.listRunsFunc != nil {
		return m.listRunsFunc(ctx, tc, versionID)
	}
	return nil, nil
}

// mockQualityService implements interfaces.QualityService for testing.
type mockQualityService struct {
	conflictsFunc func(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.Conflict, error)
	questionsFunc func(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.OpenQuestion, error)
}

func (m *mockQualityService) AnalyzeVersion(ctx context.Context, tenantID, versionID string) (int, int, error) {
	return 0, 0, nil
}

func (m *mockQualityService) ListConflicts(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.Conflict, error) {
	if m.conflictsFunc != nil {
		return m.conflictsFunc(ctx, tc, versionID)
	}
	return nil, nil
}

func (m *mockQualityService) ListOpenQuestions(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.OpenQuestion, error) {
	if m.questionsFunc != nil {
		return m.questionsFunc(ctx, tc, versionID)
	}
	return nil, nil
}

// mockRunStorage stubs the one read the handler performs.
type mockRunStorage struct {
	interfaces.RunStorage
	getRunFunc func(ctx context.Context, tenantID, runID string) (*models.ExtractionRun, error)
}

func (m *mockRunStorage) GetRun(ctx context.Context, tenantID, runID string) (*models.ExtractionRun, error) {
	if m.getRunFunc != nil {
		return m.getRunFunc(ctx, tenantID, runID)
	}
	return nil, interfaces.ErrNotFound
}

func newExtractionHandlerForTest(facts *mockFactService, quality *mockQualityService, tenants *mockTenantService, jobs *mockJobService, runs *mockRunStorage) *ExtractionHandler {
	if facts == nil {
		facts = &mockFactService{}
	}
	if quality == nil {
		quality = &mockQualityService{}
	}
	if tenants == nil {
		tenants = &mockTenantService{}
	}
	if jobs == nil {
		jobs = &mockJobService{}
	}
	if runs == nil {
		runs = &mockRunStorage{}
	}
	return NewExtractionHandler(facts, quality, tenants, jobs, runs, arbor.NewLogger())
}

func TestProfilesHandler_Vocabulary(t *testing.T) {
	handler := newExtractionHandlerForTest(nil, nil, nil, nil, nil)

	req := authed(httptest.NewRequest("GET", "/api/extraction/profiles", nil))
	rec := httptest.NewRecorder()

	handler.ProfilesHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Profiles []map[string]string      `json:"profiles"`
		Levels   []map[string]interface{} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Profiles, 4)
	names := make([]string, 0, 4)
	for _, p := range resp.Profiles {
		names = append(names, p["name"])
	}
	assert.ElementsMatch(t, []string{"general", "vc", "pharma", "insurance"}, names)
	assert.Len(t, resp.Levels, 4)
}

func TestTriggerHandler_FillsTenantDefaults(t *testing.T) {
	tenants := &mockTenantService{
		getSettingsFunc: func(ctx context.Context, tc models.TenantContext) (*models.ExtractionSettings, error) {
			return &models.ExtractionSettings{
				TenantID:              tc.TenantID,
				DefaultProfile:        models.ProfileVC,
				DefaultLevel:          2,
				DefaultProcessContext: "vc.screening",
			}, nil
		},
	}
	var gotPayload map[string]interface{}
	jobs := &mockJobService{
		enqueueFunc: func(ctx context.Context, tenantID, jobType string, priority int, payload map[string]interface{}) (*models.Job, error) {
			assert.Equal(t, models.JobTypeExtractFacts, jobType)
			gotPayload = payload
			return &models.Job{ID: "job_x", Type: jobType}, nil
		},
	}
	handler := newExtractionHandlerForTest(nil, nil, tenants, jobs, nil)

	req := authed(httptest.NewRequest("POST", "/api/extraction/trigger",
		strings.NewReader(`{"version_id":"ver_1"}`)))
	rec := httptest.NewRecorder()

	handler.TriggerHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NotNil(t, gotPayload)
	assert.Equal(t, "ver_1", gotPayload["version_id"])
	assert.Equal(t, "vc", gotPayload["profile"])
	assert.Equal(t, 2, gotPayload["level"])
	assert.Equal(t, "vc.screening", gotPayload["process_context"])
}

func TestTriggerHandler_BodyOverridesDefaults(t *testing.T) {
	var gotPayload map[string]interface{}
	jobs := &mockJobService{
		enqueueFunc: func(ctx context.Context, tenantID, jobType string, priority int, payload map[string]interface{}) (*models.Job, error) {
			gotPayload = payload
			return &models.Job{ID: "job_x"}, nil
		},
	}
	handler := newExtractionHandlerForTest(nil, nil, nil, jobs, nil)

	req := authed(httptest.NewRequest("POST", "/api/extraction/trigger",
		strings.NewReader(`{"version_id":"ver_1","profile":"pharma","level":3}`)))
	rec := httptest.NewRecorder()

	handler.TriggerHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pharma", gotPayload["profile"])
	assert.Equal(t, 3, gotPayload["level"])
}

func TestTriggerHandler_VersionIDRequired(t *testing.T) {
	handler := newExtractionHandlerForTest(nil, nil, nil, nil, nil)

	req := authed(httptest.NewRequest("POST", "/api/extraction/trigger", strings.NewReader(`{"level":2}`)))
	rec := httptest.NewRecorder()

	handler.TriggerHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpgradeHandler_EnqueuesTargetLevel(t *testing.T) {
	var gotType string
	var gotPayload map[string]interface{}
	jobs := &mockJobService{
		enqueueFunc: func(ctx context.Context, tenantID, jobType string, priority int, payload map[string]interface{}) (*models.Job, error) {
			gotType = jobType
			gotPayload = payload
			return &models.Job{ID: "job_up"}, nil
		},
	}
	handler := newExtractionHandlerForTest(nil, nil, nil, jobs, nil)

	req := authed(httptest.NewRequest("POST", "/api/extraction/upgrade",
		strings.NewReader(`{"version_id":"ver_1","target_level":3,"profile":"vc"}`)))
	rec := httptest.NewRecorder()

	handler.UpgradeHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, models.JobTypeUpgradeExtraction, gotType)
	assert.Equal(t, 3, gotPayload["target_level"])
}

func TestGetSettingsHandler_Defaults(t *testing.T) {
	handler := newExtractionHandlerForTest(nil, nil, nil, nil, nil)

	req := authed(httptest.NewRequest("GET", "/api/extraction/settings", nil))
	rec := httptest.NewRecorder()

	handler.GetSettingsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.ExtractionSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ProfileGeneral, resp.DefaultProfile)
	assert.Equal(t, 1, resp.DefaultLevel)
}

func TestQualityHandler_CombinesConflictsAndQuestions(t *testing.T) {
	quality := &mockQualityService{
		conflictsFunc: func(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.Conflict, error) {
			return []*models.Conflict{{ID: "cfl_1", VersionID: versionID}}, nil
		},
		questionsFunc: func(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.OpenQuestion, error) {
			return []*models.OpenQuestion{{ID: "oq_1"}, {ID: "oq_2"}}, nil
		},
	}
	handler := newExtractionHandlerForTest(nil, quality, nil, nil, nil)

	req := authed(httptest.NewRequest("GET", "/api/versions/ver_1/quality", nil))
	rec := httptest.NewRecorder()

	handler.QualityHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		VersionID     string                   `json:"version_id"`
		Conflicts     []*models.Conflict       `json:"conflicts"`
		OpenQuestions []*models.OpenQuestion   `json:"open_questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ver_1", resp.VersionID)
	assert.Len(t, resp.Conflicts, 1)
	assert.Len(t, resp.OpenQuestions, 2)
}

func TestGetRunHandler(t *testing.T) {
	runs := &mockRunStorage{
		getRunFunc: func(ctx context.Context, tenantID, runID string) (*models.ExtractionRun, error) {
			assert.Equal(t, "tnt_test", tenantID)
			return &models.ExtractionRun{ID: runID, Status: models.RunStatusCompleted}, nil
		},
	}
	handler := newExtractionHandlerForTest(nil, nil, nil, nil, runs)

	req := authed(httptest.NewRequest("GET", "/api/extraction/runs/run_1", nil))
	rec := httptest.NewRecorder()

	handler.GetRunHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.ExtractionRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run_1", resp.ID)
}
