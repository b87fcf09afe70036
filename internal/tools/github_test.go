package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeGitHub serves just enough of the REST API for the PR flow.
type fakeGitHub struct {
	mux *http.ServeMux

	branches map[string]string // branch -> sha
	files    map[string]string // branch/path -> content
	prs      []map[string]string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		mux:      http.NewServeMux(),
		branches: map[string]string{"main": "abc123"},
		files:    make(map[string]string),
	}

	f.mux.HandleFunc("GET /repos/acme/shop", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, map[string]interface{}{
			"name":           "shop",
			"full_name":      "acme/shop",
			"default_branch": "main",
			"html_url":       "https://github.com/acme/shop",
		})
	})

	f.mux.HandleFunc("GET /repos/acme/shop/git/ref/heads/{branch}", func(w http.ResponseWriter, r *http.Request) {
		sha, ok := f.branches[r.PathValue("branch")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeTestJSON(t, w, map[string]string{"message": "Not Found"})
			return
		}
		writeTestJSON(t, w, map[string]interface{}{
			"ref":    "refs/heads/" + r.PathValue("branch"),
			"object": map[string]string{"sha": sha},
		})
	})

	f.mux.HandleFunc("POST /repos/acme/shop/git/refs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.branches[body.Ref[len("refs/heads/"):]] = body.SHA
		w.WriteHeader(http.StatusCreated)
		writeTestJSON(t, w, map[string]string{"ref": body.Ref})
	})

	f.mux.HandleFunc("GET /repos/acme/shop/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("ref") + "/" + r.PathValue("path")
		content, ok := f.files[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeTestJSON(t, w, map[string]string{"message": "Not Found"})
			return
		}
		writeTestJSON(t, w, map[string]string{"sha": "blob-" + key, "content": content})
	})

	f.mux.HandleFunc("PUT /repos/acme/shop/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		f.files[body.Branch+"/"+r.PathValue("path")] = string(decoded)
		w.WriteHeader(http.StatusCreated)
		writeTestJSON(t, w, map[string]string{"message": body.Message})
	})

	f.mux.HandleFunc("POST /repos/acme/shop/pulls", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.prs = append(f.prs, body)
		w.WriteHeader(http.StatusCreated)
		writeTestJSON(t, w, map[string]interface{}{
			"number":   42,
			"html_url": "https://github.com/acme/shop/pull/42",
			"state":    "open",
			"title":    body["title"],
		})
	})

	return f
}

func writeTestJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestCreatePRFlow(t *testing.T) {
	fakeAPI := newFakeGitHub(t)
	server := httptest.NewServer(fakeAPI.mux)
	defer server.Close()

	client := NewGitHubClient("test-token", "acme", "shop", nil, WithGitHubBaseURL(server.URL))

	args := `{
		"title": "Raise canary memory limit",
		"body": "OOM kills observed on the canary.",
		"branchName": "fix/canary-memory-limit",
		"filePath": "deploy/canary.yaml",
		"fileContent": "memory: 512Mi",
		"commitMessage": "Raise memory limit to 512Mi"
	}`

	result, err := client.createPR(context.Background(), json.RawMessage(args))
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		PRNumber int    `json:"prNumber"`
		PRURL    string `json:"prUrl"`
		State    string `json:"state"`
		Branch   string `json:"branch"`
		Base     string `json:"base"`
	}
	if err := json.Unmarshal([]byte(result), &out); err != nil {
		t.Fatalf("result is not JSON: %q", result)
	}
	if out.PRNumber != 42 || out.PRURL != "https://github.com/acme/shop/pull/42" {
		t.Errorf("pr = %+v", out)
	}
	if out.Branch != "fix/canary-memory-limit" || out.Base != "main" {
		t.Errorf("branch/base = %q/%q", out.Branch, out.Base)
	}

	// Side effects on the fake: branch created from main, file committed.
	if fakeAPI.branches["fix/canary-memory-limit"] != "abc123" {
		t.Errorf("branch not created from main head: %v", fakeAPI.branches)
	}
	if got := fakeAPI.files["fix/canary-memory-limit/deploy/canary.yaml"]; got != "memory: 512Mi" {
		t.Errorf("file content = %q", got)
	}
	if len(fakeAPI.prs) != 1 || fakeAPI.prs[0]["head"] != "fix/canary-memory-limit" || fakeAPI.prs[0]["base"] != "main" {
		t.Errorf("pr request = %v", fakeAPI.prs)
	}
}

func TestCreatePRMissingArgs(t *testing.T) {
	client := NewGitHubClient("tok", "acme", "shop", nil)

	_, err := client.createPR(context.Background(), json.RawMessage(`{"title": "x"}`))
	if err == nil {
		t.Error("expected error for missing branchName and filePath")
	}
}

func TestPutFileUpdatesExisting(t *testing.T) {
	fakeAPI := newFakeGitHub(t)
	fakeAPI.files["main/deploy/canary.yaml"] = "memory: 256Mi"
	server := httptest.NewServer(fakeAPI.mux)
	defer server.Close()

	client := NewGitHubClient("tok", "acme", "shop", nil, WithGitHubBaseURL(server.URL))

	err := client.PutFile(context.Background(), "main", "deploy/canary.yaml", "bump", "memory: 512Mi")
	if err != nil {
		t.Fatal(err)
	}
	if got := fakeAPI.files["main/deploy/canary.yaml"]; got != "memory: 512Mi" {
		t.Errorf("file content = %q", got)
	}
}

func TestGetRepositoryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "Bad credentials"}`))
	}))
	defer server.Close()

	client := NewGitHubClient("bad", "acme", "shop", nil, WithGitHubBaseURL(server.URL))

	_, err := client.GetRepository(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "Bad credentials"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should mention %q", err, want)
	}
}
