package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with canned JSON and 404s the rest.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Path: r.URL.RequestURI(), Auth: r.Header.Get("Authorization")}
		if len(raw) > 0 {
			json.Unmarshal(raw, &rec.Body)
		}
		ts.requests = append(ts.requests, rec)

		w.Header().Set("Content-Type", "application/json")
		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			w.Write([]byte(resp))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{baseURL: ts.server.URL, token: "test-token", httpClient: ts.server.Client()}
}

// run executes the CLI against ts and returns what it printed to stdout.
func run(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()
	oldClient, oldOut, oldColor := newAPIClient, stdout, noColor
	var out bytes.Buffer
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	stdout = &out
	noColor = true
	t.Cleanup(func() {
		newAPIClient, stdout, noColor = oldClient, oldOut, oldColor
		resetFlags(rootCmd)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores scalar flags to their defaults between runs; cobra
// keeps parsed values on the package-level commands.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !strings.HasSuffix(f.Value.Type(), "Slice") {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestSearchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /query": `{"success":true,"queryId":"q1","results":[
			{"id":"k1","content":"외주 견적은 3곳 이상 비교한다","knowledgeType":"decision_pattern","scope":"team","similarity":0.82}
		]}`,
	})

	out, err := run(t, ts, "search", "외주", "견적", "--user", "u1", "--project", "p1", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "외주 견적은 3곳 이상 비교한다")
	assert.Contains(t, out, "0.82")

	require.Len(t, ts.requests, 1)
	r := ts.requests[0]
	assert.Equal(t, "Bearer test-token", r.Auth)
	assert.Equal(t, "/query", r.Path)
	assert.Equal(t, "search", r.Body["action"])
	assert.Equal(t, "외주 견적", r.Body["query"])
	assert.Equal(t, "u1", r.Body["userId"])
	assert.Equal(t, "p1", r.Body["projectId"])
	assert.Equal(t, float64(3), r.Body["limit"])
	assert.NotContains(t, r.Body, "threshold")
}

func TestSearchCommand_RequiresUser(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := run(t, ts, "search", "회의")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
	assert.Empty(t, ts.requests)
}

func TestContextCommand_SendsExplicitZeroBudget(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /query": `{"success":true,"context":"","truncated":false}`,
	})
	_, err := run(t, ts, "context", "회의", "--user", "u1", "--max-chars", "0")
	require.NoError(t, err)
	require.Len(t, ts.requests, 1)
	assert.Equal(t, "getContext", ts.requests[0].Body["action"])
	assert.Equal(t, float64(0), ts.requests[0].Body["maxChars"])
}

func TestDigestCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /digests": `{"success":true,"created":4,"digests":[]}`,
	})
	_, err := run(t, ts, "digest", "c1", "--min-messages", "3")
	require.NoError(t, err)
	require.Len(t, ts.requests, 1)
	assert.Equal(t, "c1", ts.requests[0].Body["conversationId"])
	assert.Equal(t, float64(3), ts.requests[0].Body["minMessages"])
}

func TestBatchAndReembedCommands(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ingest": `{"success":true,"result":{"processed":2,"itemsCreated":5}}`,
	})
	_, err := run(t, ts, "batch", "--limit", "10")
	require.NoError(t, err)
	_, err = run(t, ts, "reembed")
	require.NoError(t, err)

	require.Len(t, ts.requests, 2)
	assert.Equal(t, "batchProcess", ts.requests[0].Body["action"])
	assert.Equal(t, float64(10), ts.requests[0].Body["limit"])
	assert.Equal(t, "reembed", ts.requests[1].Body["action"])
	assert.NotContains(t, ts.requests[1].Body, "limit")
}

func TestConfirmCommand_Reject(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /actions/a1/reject": `{"success":true,"action":{"id":"a1","actionType":"create_todo","status":"rejected"}}`,
	})
	_, err := run(t, ts, "confirm", "a1", "--user", "u1", "--reject")
	require.NoError(t, err)
	require.Len(t, ts.requests, 1)
	assert.Equal(t, "/actions/a1/reject", ts.requests[0].Path)
	assert.Equal(t, "u1", ts.requests[0].Body["userId"])
}

func TestExecuteCommand_SurfacesServerError(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := run(t, ts, "execute", "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not found")
}

func TestDecodeJSON_ErrorBody(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteHeader(http.StatusTooManyRequests)
	rr.WriteString(`{"error":"요청이 많아 잠시 후 다시 시도해 주세요"}`)

	var v map[string]any
	err := decodeJSON(rr.Result(), &v)
	require.Error(t, err)
	assert.Equal(t, "server returned 429: 요청이 많아 잠시 후 다시 시도해 주세요", err.Error())
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	t.Setenv("BRAIN_CONFIG", t.TempDir()+"/missing.yaml")
	t.Setenv("BRAIN_LLM_API_KEY", "sk-secret-abcd")
	t.Setenv("BRAIN_SERVER_TOKEN", "token-wxyz")

	out, err := run(t, newTestServer(t, nil), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "llm.api_key = ****abcd")
	assert.Contains(t, out, "server.token = ****wxyz")
	assert.NotContains(t, out, "sk-secret-abcd")
	assert.Contains(t, out, "BRAIN_LLM_API_KEY")
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "none", formatCounts(nil))
	assert.Equal(t, "completed=3 pending=1", formatCounts(map[string]int{"pending": 1, "completed": 3}))
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	assert.Equal(t, "x", colorize(colorRed, "x"))
	noColor = false
	assert.Equal(t, colorRed+"x"+colorReset, colorize(colorRed, "x"))
}
