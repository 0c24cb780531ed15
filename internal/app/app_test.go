package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"subscriber-api/internal/logging"
	"subscriber-api/internal/models"
	"subscriber-api/internal/repository"
	"subscriber-api/internal/telemetry"
)

const formContentType = "application/x-www-form-urlencoded"

type unavailableRepository struct{}

func (unavailableRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	return errors.New("connection refused")
}

type TestApp struct {
	server      *httptest.Server
	recorder    *telemetry.TestSpanRecorder
	application *Application
	client      *http.Client
}

var (
	recorder *telemetry.TestSpanRecorder
	tp       *trace.TracerProvider
)

// TestMain installs one tracer provider for the package. Repositories and
// services bind their tracer when constructed, so it must exist first.
func TestMain(m *testing.M) {
	recorder = telemetry.NewTestSpanRecorder()
	tp = telemetry.InitTestTracing("test-subscriber-api", "1.0.0", recorder)

	code := m.Run()

	_ = tp.Shutdown(context.Background())
	os.Exit(code)
}

func SpawnTestApp(t *testing.T, repo repository.SubscriberRepository) *TestApp {
	t.Helper()

	logger, err := logging.NewLogger("info")
	require.NoError(t, err)
	logger.SetOutput(io.Discard)

	recorder.Clear()

	config := &Config{
		ServiceName:    "test-subscriber-api",
		ServiceVersion: "1.0.0",
		Addr:           "127.0.0.1:0",
		MaxBodyBytes:   1024,
		Logger:         logger,
		TracerProvider: tp,
		GinMode:        gin.TestMode,
		Repository:     repo,
	}

	application := Build(config)
	server := httptest.NewServer(application.GetRouter())

	app := &TestApp{
		server:      server,
		recorder:    recorder,
		application: application,
		client:      server.Client(),
	}
	t.Cleanup(app.Close)
	return app
}

func (app *TestApp) Close() {
	app.server.Close()
}

func (app *TestApp) PostSubscriptions(t *testing.T, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/subscriptions", strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := app.client.Do(req)
	require.NoError(t, err, "Failed to execute request.")
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthCheckWorks(t *testing.T) {
	app := SpawnTestApp(t, nil)

	resp, err := app.client.Get(app.server.URL + "/health_check")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), resp.ContentLength)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestHealthCheckIgnoresStoreHealth(t *testing.T) {
	app := SpawnTestApp(t, unavailableRepository{})

	resp, err := app.client.Get(app.server.URL + "/health_check")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), resp.ContentLength)
}

func TestSubscribeReturns200ForValidFormData(t *testing.T) {
	repo := repository.NewInMemorySubscriberRepository()
	app := SpawnTestApp(t, repo)

	resp := app.PostSubscriptions(t, formContentType, "name=le%20guin&email=ursula_le_guin%40gmail.com")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, repo.Count())
	saved := repo.All()[0]
	assert.Equal(t, "le guin", saved.Name)
	assert.Equal(t, "ursula_le_guin@gmail.com", saved.Email)
	assert.False(t, saved.SubscribedAt.IsZero())
}

func TestSubscribeAcceptsSemicolonsInValues(t *testing.T) {
	repo := repository.NewInMemorySubscriberRepository()
	app := SpawnTestApp(t, repo)

	first := app.PostSubscriptions(t, formContentType, "name=le;guin&email=a%40b.c")
	second := app.PostSubscriptions(t, formContentType, "name=le%20guin&email=ursula_le_guin%40gmail.com&utm=x;y")

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	require.Equal(t, 2, repo.Count())
	names := []string{repo.All()[0].Name, repo.All()[1].Name}
	assert.ElementsMatch(t, []string{"le;guin", "le guin"}, names)
}

func TestSubscribeReturns400WhenDataIsMissing(t *testing.T) {
	repo := repository.NewInMemorySubscriberRepository()
	app := SpawnTestApp(t, repo)

	testCases := []struct {
		invalidBody string
		errorMsg    string
	}{
		{"name=le%20guin", "missing the email"},
		{"email=ursula_le_guin%40gmail.com", "missing the name"},
		{"", "missing both name and email"},
	}

	for _, tc := range testCases {
		resp := app.PostSubscriptions(t, formContentType, tc.invalidBody)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode,
			"The API did not fail with 400 Bad Request when the payload was %s.", tc.errorMsg)
	}
	assert.Equal(t, 0, repo.Count())
}

func TestSubscribeReturns400WhenFieldsArePresentButEmpty(t *testing.T) {
	repo := repository.NewInMemorySubscriberRepository()
	app := SpawnTestApp(t, repo)

	for _, body := range []string{"name=&email=ursula_le_guin%40gmail.com", "name=le%20guin&email=", "name=&email="} {
		resp := app.PostSubscriptions(t, formContentType, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "payload %q", body)
	}
	assert.Equal(t, 0, repo.Count())
}

func TestSubscribeReturns400ForUndecodablePayloads(t *testing.T) {
	repo := repository.NewInMemorySubscriberRepository()
	app := SpawnTestApp(t, repo)

	testCases := []struct {
		contentType string
		body        string
		description string
	}{
		{formContentType, "name=le%2guin&email=ursula_le_guin%40gmail.com", "malformed percent escape"},
		{formContentType, "name=a&name=b&email=ursula_le_guin%40gmail.com", "duplicate name"},
		{"application/json", `{"name":"le guin","email":"ursula_le_guin@gmail.com"}`, "json body"},
		{"", "name=le%20guin&email=ursula_le_guin%40gmail.com", "no content type"},
		{formContentType, "name=" + strings.Repeat("a", 2048) + "&email=a%40b.c", "body over limit"},
	}

	for _, tc := range testCases {
		resp := app.PostSubscriptions(t, tc.contentType, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.description)
	}
	assert.Equal(t, 0, repo.Count())
}

func TestSubscribeReturns500WhenStoreFails(t *testing.T) {
	app := SpawnTestApp(t, unavailableRepository{})

	resp := app.PostSubscriptions(t, formContentType, "name=le%20guin&email=ursula_le_guin%40gmail.com")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "connection refused")
}

func TestSubscribeDuplicateEmailIsAStoreFailure(t *testing.T) {
	app := SpawnTestApp(t, repository.NewInMemorySubscriberRepository())
	body := "name=le%20guin&email=ursula_le_guin%40gmail.com"

	first := app.PostSubscriptions(t, formContentType, body)
	second := app.PostSubscriptions(t, formContentType, body)

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusInternalServerError, second.StatusCode)
}

func TestSubscribeEmitsDatabaseWriteSpanOnlyOnSuccess(t *testing.T) {
	app := SpawnTestApp(t, repository.NewInMemorySubscriberRepository())

	app.PostSubscriptions(t, formContentType, "name=le%20guin")
	assert.Empty(t, app.recorder.GetSpansByOperation("database.write"))

	app.recorder.Clear()
	app.PostSubscriptions(t, formContentType, "name=le%20guin&email=ursula_le_guin%40gmail.com")

	writeSpans := app.recorder.GetSpansByOperation("database.write")
	require.Len(t, writeSpans, 1)
	foundEmail := false
	for _, attr := range writeSpans[0].Attributes() {
		if attr.Key == "subscriber.email" && attr.Value.AsString() == "ursula_le_guin@gmail.com" {
			foundEmail = true
		}
	}
	assert.True(t, foundEmail, "Expected to find subscriber.email attribute in span")

	// The store span must be a descendant of the server span from otelgin.
	var serverSpans []trace.ReadOnlySpan
	for _, span := range app.recorder.GetSpans() {
		if span.SpanKind() == oteltrace.SpanKindServer {
			serverSpans = append(serverSpans, span)
		}
	}
	require.Len(t, serverSpans, 1)
	assert.Equal(t, serverSpans[0].SpanContext().TraceID(), writeSpans[0].SpanContext().TraceID())
}

func TestMetricsEndpointCountsOutcomes(t *testing.T) {
	app := SpawnTestApp(t, repository.NewInMemorySubscriberRepository())

	app.PostSubscriptions(t, formContentType, "name=le%20guin&email=ursula_le_guin%40gmail.com")
	app.PostSubscriptions(t, formContentType, "")

	resp, err := app.client.Get(app.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `subscriptions_total{outcome="persisted"} 1`)
	assert.Contains(t, string(body), `subscriptions_total{outcome="rejected"} 1`)
	assert.Contains(t, string(body), `route="/subscriptions"`)
}

func TestUnknownRouteReturns404(t *testing.T) {
	app := SpawnTestApp(t, nil)

	resp, err := app.client.Get(app.server.URL + "/subscriptions")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeOnRandomPortAndShutdown(t *testing.T) {
	logger, err := logging.NewLogger("error")
	require.NoError(t, err)
	logger.SetOutput(io.Discard)

	application := Build(&Config{
		ServiceName: "test-subscriber-api",
		Addr:        "127.0.0.1:0",
		Logger:      logger,
		GinMode:     gin.TestMode,
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := "http://" + listener.Addr().String()

	served := make(chan error, 1)
	go func() { served <- application.Serve(listener) }()

	resp, err := http.Get(address + "/health_check")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Shutdown(ctx))
	assert.NoError(t, <-served)
}
