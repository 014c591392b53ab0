package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"example.com/smarttracker/internal/domain"
	"example.com/smarttracker/internal/observability"
	"example.com/smarttracker/internal/persistence/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T, doc domain.Document) http.Handler {
	t.Helper()
	store := domain.NewStore(doc)
	require.NoError(t, store.Initialize(context.Background()))

	logger := zaptest.NewLogger(t)
	mux := http.NewServeMux()
	NewHandler(store, logger).RegisterRoutes(mux)
	return Chain(mux, Standard(logger, "*")...)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func createStudyGroup(t *testing.T, h http.Handler) domain.Activity {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/activities",
		`{"title":"Study Group","description":"Library 2F","latitude":40.7,"longitude":-74.0}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[ActivityResponse](t, rr).Data
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[HealthResponse](t, rr)
	require.True(t, resp.Success)
	require.Equal(t, Version, resp.Version)
	require.NotEmpty(t, resp.Message)
	require.WithinDuration(t, time.Now(), resp.Timestamp, time.Minute)
}

func TestCreateActivityScenario(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodPost, "/api/activities",
		`{"title":"Study Group","description":"Library 2F","latitude":40.7,"longitude":-74.0}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	require.Equal(t, true, raw["success"])
	require.Equal(t, "Activity created successfully", raw["message"])

	data := raw["data"].(map[string]any)
	require.NotEmpty(t, data["id"])
	require.Equal(t, "anonymous", data["userId"])
	require.Contains(t, data, "imageUrl")
	require.Nil(t, data["imageUrl"])
	require.Equal(t, data["createdAt"], data["timestamp"])
	require.Equal(t, data["createdAt"], data["updatedAt"])
}

func TestCreateAcceptsZeroCoordinatesAndStrings(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodPost, "/api/activities",
		`{"title":"Null Island","description":"origin","latitude":0,"longitude":"0"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decode[ActivityResponse](t, rr).Data
	require.Zero(t, float64(created.Latitude))
	require.Zero(t, float64(created.Longitude))
}

func TestCreateMissingTitleDoesNotAppend(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())
	createStudyGroup(t, h)

	rr := do(t, h, http.MethodPost, "/api/activities", `{"description":"x","latitude":1,"longitude":2}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	resp := decode[ErrorResponse](t, rr)
	require.False(t, resp.Success)
	require.Equal(t, domain.MissingFieldsMessage, resp.Error)

	list := decode[ListActivitiesResponse](t, do(t, h, http.MethodGet, "/api/activities", ""))
	require.Equal(t, 1, list.Count)
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodPost, "/api/activities", `{"title":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Invalid request body", decode[ErrorResponse](t, rr).Error)

	rr = do(t, h, http.MethodPost, "/api/activities", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, domain.MissingFieldsMessage, decode[ErrorResponse](t, rr).Error)
}

func TestListPreservesInsertionOrder(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	empty := decode[ListActivitiesResponse](t, do(t, h, http.MethodGet, "/api/activities", ""))
	require.True(t, empty.Success)
	require.Equal(t, 0, empty.Count)
	require.NotNil(t, empty.Data)

	first := createStudyGroup(t, h)
	second := createStudyGroup(t, h)

	list := decode[ListActivitiesResponse](t, do(t, h, http.MethodGet, "/api/activities", ""))
	require.Equal(t, 2, list.Count)
	require.Equal(t, first.ID, list.Data[0].ID)
	require.Equal(t, second.ID, list.Data[1].ID)
}

func TestGetActivity(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())
	created := createStudyGroup(t, h)

	rr := do(t, h, http.MethodGet, "/api/activities/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[ActivityResponse](t, rr)
	require.True(t, resp.Success)
	require.Equal(t, created.ID, resp.Data.ID)
	require.True(t, created.CreatedAt.Equal(resp.Data.CreatedAt))
}

func TestGetMissingActivity(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodGet, "/api/activities/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"success":false,"error":"Activity not found"}`, rr.Body.String())
}

func TestUpdateActivityScenario(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())
	created := createStudyGroup(t, h)

	time.Sleep(2 * time.Millisecond)
	rr := do(t, h, http.MethodPut, "/api/activities/"+created.ID, `{"title":"Updated Title","id":"other"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode[ActivityResponse](t, rr)
	require.Equal(t, "Activity updated successfully", resp.Message)
	require.Equal(t, created.ID, resp.Data.ID)
	require.Equal(t, "Updated Title", resp.Data.Title)
	require.Equal(t, created.Description, resp.Data.Description)
	require.Equal(t, created.Latitude, resp.Data.Latitude)
	require.Equal(t, created.Longitude, resp.Data.Longitude)
	require.True(t, resp.Data.UpdatedAt.After(created.UpdatedAt))
	require.True(t, resp.Data.CreatedAt.Equal(created.CreatedAt))
}

func TestUpdateMissingActivity(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodPut, "/api/activities/nope", `{"title":"x"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateMissingActivityWithInvalidPatch(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())
	createStudyGroup(t, h)

	rr := do(t, h, http.MethodPut, "/api/activities/nope", `{"title":""}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"success":false,"error":"Activity not found"}`, rr.Body.String())
}

func TestUpdateRejectsInvalidPatch(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())
	created := createStudyGroup(t, h)

	rr := do(t, h, http.MethodPut, "/api/activities/"+created.ID, `{"latitude":"somewhere"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPut, "/api/activities/"+created.ID, `[1,2]`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteTwice(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())
	created := createStudyGroup(t, h)

	rr := do(t, h, http.MethodDelete, "/api/activities/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[ActivityResponse](t, rr)
	require.Equal(t, "Activity deleted successfully", resp.Message)
	require.Equal(t, created.ID, resp.Data.ID)

	rr = do(t, h, http.MethodDelete, "/api/activities/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	list := decode[ListActivitiesResponse](t, do(t, h, http.MethodGet, "/api/activities", ""))
	require.Equal(t, 0, list.Count)
}

func TestSaveFailureReturns500(t *testing.T) {
	doc := &failingSaveDocument{Document: memory.NewDocument()}
	h := newTestServer(t, doc)
	created := createStudyGroup(t, h)

	doc.fail = true
	rr := do(t, h, http.MethodPost, "/api/activities",
		`{"title":"t","description":"d","latitude":1,"longitude":1}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	require.False(t, resp.Success)
	require.Equal(t, "Failed to save activity", resp.Error)
	require.NotEmpty(t, resp.Message)

	rr = do(t, h, http.MethodPut, "/api/activities/"+created.ID, `{"title":"x"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "Failed to update activity", decode[ErrorResponse](t, rr).Error)

	rr = do(t, h, http.MethodDelete, "/api/activities/"+created.ID, "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "Failed to delete activity", decode[ErrorResponse](t, rr).Error)

	doc.fail = false
	list := decode[ListActivitiesResponse](t, do(t, h, http.MethodGet, "/api/activities", ""))
	require.Equal(t, 1, list.Count)
	require.Equal(t, "Study Group", list.Data[0].Title)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodPatch, "/api/activities", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.False(t, decode[ErrorResponse](t, rr).Success)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, memory.NewDocument())

	rr := do(t, h, http.MethodOptions, "/api/activities", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestRecoverReturns500(t *testing.T) {
	logger := zaptest.NewLogger(t)
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}), Recover(logger))

	rr := do(t, h, http.MethodGet, "/api/activities", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	require.Equal(t, "Internal server error", resp.Error)
	require.Equal(t, "kaboom", resp.Message)
}

func TestRecoveredPanicIsLoggedAndCounted(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}), Standard(zap.New(core), "*")...)

	counter := observability.HTTPRequests(http.MethodDelete, http.StatusInternalServerError)
	before := testutil.ToFloat64(counter)

	rr := do(t, h, http.MethodDelete, "/api/activities/x", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, before+1, testutil.ToFloat64(counter))

	requests := logs.FilterMessage("request").All()
	require.Len(t, requests, 1)
	require.EqualValues(t, http.StatusInternalServerError, requests[0].ContextMap()["status"])
	require.Len(t, logs.FilterMessage("panic while handling request").All(), 1)
}

type failingSaveDocument struct {
	*memory.Document
	fail bool
}

func (d *failingSaveDocument) Save(ctx context.Context, activities []domain.Activity) error {
	if d.fail {
		return errors.New("disk full")
	}
	return d.Document.Save(ctx, activities)
}
