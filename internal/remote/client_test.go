package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
)

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

type failingTokens struct{ err error }

func (f failingTokens) AccessToken(context.Context) (string, error) {
	return "", f.err
}

func writeJSON(t *testing.T, writer http.ResponseWriter, status int, body any) {
	t.Helper()
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{BaseURL: server.URL + "/", HTTPClient: server.Client(), Timeout: timeout})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func TestPullSendsBearerAndDecodesEnvelope(t *testing.T) {
	var received syncapi.PullRequest
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != syncapi.PathPull {
			t.Errorf("unexpected path %s", request.URL.Path)
		}
		if got := request.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeJSON(t, writer, http.StatusOK, syncapi.OK(syncapi.SyncResponse{
			ServerTime: 5000,
			Snapshots:  []syncapi.SnapshotDTO{{Date: "2024-01-01", CategoryID: "cash", Amount: 10, UpdatedAt: 4000}},
		}))
	}, time.Second)

	syncClient, err := client.Sync(staticTokens("access-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	watermark := int64(1234)
	response, err := syncClient.Pull(context.Background(), syncapi.PullRequest{LastSyncTime: &watermark})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if received.LastSyncTime == nil || *received.LastSyncTime != 1234 {
		t.Fatalf("expected watermark to be sent, got %+v", received)
	}
	if response.ServerTime != 5000 || len(response.Snapshots) != 1 || response.Snapshots[0].Amount != 10 {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestPushSendsEmptyArraysRatherThanNull(t *testing.T) {
	var raw map[string]json.RawMessage
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeJSON(t, writer, http.StatusOK, syncapi.OK(syncapi.SyncResponse{ServerTime: 1}))
	}, time.Second)
	syncClient, _ := client.Sync(staticTokens("token"))
	if _, err := syncClient.Push(context.Background(), syncapi.PushRequest{}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if string(raw["snapshots"]) != "[]" || string(raw["categories"]) != "[]" {
		t.Fatalf("expected empty arrays, got %s and %s", raw["snapshots"], raw["categories"])
	}
}

func TestErrorResponsesAreClassified(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: syncapi.Failure(syncapi.CodeUnauthorized, "expired"), want: syncapi.ErrUnauthorized},
		{name: "bad record", status: http.StatusBadRequest, body: syncapi.Failure(syncapi.CodeInvalidRecord, "bad date"), want: syncapi.ErrRejected},
		{name: "success false", status: http.StatusOK, body: syncapi.Failure(syncapi.CodeInternal, "nope"), want: syncapi.ErrRejected},
		{name: "gateway html", status: http.StatusBadGateway, body: "<html>", want: syncapi.ErrUnavailable},
		{name: "internal error", status: http.StatusInternalServerError, body: syncapi.Failure(syncapi.CodeInternal, "boom"), want: syncapi.ErrUnavailable},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
				if text, ok := testCase.body.(string); ok {
					writer.WriteHeader(testCase.status)
					_, _ = writer.Write([]byte(text))
					return
				}
				writeJSON(t, writer, testCase.status, testCase.body)
			}, time.Second)
			_, err := client.Login(context.Background(), syncapi.LoginRequest{Email: "a@example.com", Password: "pw"})
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestSlowServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-release:
		case <-request.Context().Done():
		}
	}, 20*time.Millisecond)
	defer close(release)

	_, err := client.Refresh(context.Background(), "refresh-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTokenSourceFailureStopsCall(t *testing.T) {
	called := false
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		called = true
	}, time.Second)
	sentinel := errors.New("no session")
	syncClient, _ := client.Sync(failingTokens{err: sentinel})
	if _, err := syncClient.Pull(context.Background(), syncapi.PullRequest{}); !errors.Is(err, sentinel) {
		t.Fatalf("expected token error, got %v", err)
	}
	if called {
		t.Fatalf("request must not be sent without a token")
	}
}
