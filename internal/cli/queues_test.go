package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdminEndpoint serves canned admin responses and points the CLI's
// config file at itself.
func fakeAdminEndpoint(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfgPath := filepath.Join(t.TempDir(), "outrigger.json")
	body := fmt.Sprintf(`{"metrics":{"enabled":true,"host":%q,"port":%d}}`, u.Hostname(), port)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	origCfg := cfgFile
	cfgFile = cfgPath
	t.Cleanup(func() { cfgFile = origCfg })

	return server
}

func TestQueuesListCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/queues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"queues":[{"name":"runs","counts":{"waiting":2,"active":1},"dead_letters":3}]}`)
	})
	fakeAdminEndpoint(t, mux)

	client, err := newAdminClient()
	require.NoError(t, err)

	var listing struct {
		Queues []struct {
			Name        string `json:"name"`
			DeadLetters int    `json:"dead_letters"`
		} `json:"queues"`
	}
	require.NoError(t, client.get("/admin/queues", &listing))
	require.Len(t, listing.Queues, 1)
	assert.Equal(t, "runs", listing.Queues[0].Name)
	assert.Equal(t, 3, listing.Queues[0].DeadLetters)
}

func TestQueuesDrainCommand(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/queues/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"queue":"runs","removed":4}`)
	})
	fakeAdminEndpoint(t, mux)

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"queues", "drain", "runs", "--delayed"})
	cmd.SetOut(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "/admin/queues/runs/drain?delayed=true", gotPath)
}

func TestQueuesCommandReportsDaemonError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/queues/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"unknown queue \"nope\""}`)
	})
	fakeAdminEndpoint(t, mux)

	client, err := newAdminClient()
	require.NoError(t, err)

	err = client.post("/admin/queues/nope/pause", nil, nil)
	assert.ErrorContains(t, err, "unknown queue")
}

func TestRunCommandSubmits(t *testing.T) {
	var gotBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/runs", func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = readAll(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"job_id":"run:abc","queue":"runs"}`)
	})
	fakeAdminEndpoint(t, mux)

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"run", "summarize", "the", "report", "--tenant", "t1"})
	cmd.SetOut(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, string(gotBody), "summarize the report")
	assert.Contains(t, string(gotBody), `"tenant_id":"t1"`)
}

func readAll(r *http.Request) ([]byte, error) {
	buf := &bytes.Buffer{}
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}
