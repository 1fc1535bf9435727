package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/KaramelBytes/docloom-embed/internal/errs"
	"github.com/KaramelBytes/docloom-embed/internal/pipeline"
)

// resetFlags clears values and Changed state that persist across Execute
// calls in one process.
func resetFlags(c *cobra.Command) {
	reset := func(fl *pflag.Flag) {
		if sv, ok := fl.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = fl.Value.Set(fl.DefValue)
		}
		fl.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(args ...string) (string, error) {
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// runCmd is a helper to execute the root command with args.
func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(args...)
	if err != nil {
		t.Fatalf("command %v failed: %v\n%s", args, err, out)
	}
	return out
}

// isolate points config, projects, index and ledger at a temp HOME.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return p
}

func TestCLI_Tokens(t *testing.T) {
	home := isolate(t)
	doc := writeDoc(t, home, "hello.txt", "hello world")

	out := runCmd(t, "tokens", doc)
	if !strings.Contains(out, "Total: 2 tokens (cl100k_base)") {
		t.Fatalf("unexpected tokens output: %q", out)
	}
	out = runCmd(t, "tokens", "--truncate", "1", doc)
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected truncation: %q", out)
	}

	records := writeDoc(t, home, "records.json", `[{"body": "hello world"}, {"body": "hello"}]`)
	out = runCmd(t, "tokens", "--field", "body", records)
	if !strings.Contains(out, "Total: 3 tokens") {
		t.Fatalf("unexpected field count: %q", out)
	}
	bad := writeDoc(t, home, "bad.json", `{"body": 42}`)
	_, err := execute("tokens", "--field", "body", bad)
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for a non-string field, got %v", err)
	}
}

func TestCLI_ChunkJSON(t *testing.T) {
	home := isolate(t)
	body := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	doc := writeDoc(t, home, "fox.txt", body)

	out := runCmd(t, "chunk", "--max-tokens", "50", "--overlap", "5", "--min-tokens", "10", doc)
	var got []chunkOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode chunk output: %v\n%s", err, out)
	}
	if len(got) != 1 || len(got[0].Chunks) < 2 {
		t.Fatalf("expected several chunks, got %+v", got)
	}
	for _, ch := range got[0].Chunks {
		if ch.TokenCount > 50 {
			t.Fatalf("chunk %d has %d tokens", ch.Index, ch.TokenCount)
		}
	}
	if got[0].Config.MaxTokens != 50 || got[0].Config.OverlapTokens != 5 {
		t.Fatalf("flags not applied: %+v", got[0].Config)
	}

	if _, err := execute("chunk", "--max-tokens", "10", "--overlap", "10", doc); err == nil {
		t.Fatalf("expected invalid chunk settings to fail")
	}
}

func TestCLI_EstimateTokens(t *testing.T) {
	isolate(t)
	out := runCmd(t, "estimate", "--tokens", "1000000", "--model", "openai/text-embedding-3-small")
	if !strings.Contains(out, "Cost: $0.02000000") || !strings.Contains(out, "Credits: 200") {
		t.Fatalf("unexpected estimate: %q", out)
	}
	out = runCmd(t, "estimate", "--tokens", "1", "--provider", "ollama", "--tier", "cheap")
	if !strings.Contains(out, "all-minilm") || !strings.Contains(out, "Credits: 0") {
		t.Fatalf("unexpected local estimate: %q", out)
	}
	if _, err := execute("estimate", "--tokens", "10", "--model", "no/such-model"); err == nil {
		t.Fatalf("expected unknown model to fail")
	}
}

func TestCLI_ProjectDryRunAndBudget(t *testing.T) {
	home := isolate(t)
	doc := writeDoc(t, home, "doc.md", "# Title\n\n"+strings.Repeat("content ", 3000))

	runCmd(t, "init", "itest", "-d", "integration test", "--model", "openai/text-embedding-3-large")
	if _, err := execute("init", "itest"); err == nil {
		t.Fatalf("expected re-init to fail")
	}
	runCmd(t, "add", "-p", "itest", doc, "--desc", "first doc")
	out := runCmd(t, "list", "--docs", "-p", "itest")
	if !strings.Contains(out, "doc.md") {
		t.Fatalf("document not listed: %q", out)
	}
	out = runCmd(t, "list", "--projects")
	if !strings.Contains(out, "- itest") {
		t.Fatalf("project not listed: %q", out)
	}

	out = runCmd(t, "index", "-p", "itest", "--dry-run")
	if !strings.Contains(out, "Model: openai/text-embedding-3-large") || !strings.Contains(out, "Dry run") {
		t.Fatalf("unexpected dry run output: %q", out)
	}
	// Dry runs never count toward totals.
	out = runCmd(t, "ledger", "show")
	if !strings.Contains(out, "(no charges)") {
		t.Fatalf("unexpected ledger: %q", out)
	}

	runCmd(t, "project", "set", "budget_credits", "1", "-p", "itest")
	_, err := execute("index", "-p", "itest", "--dry-run")
	if !errors.Is(err, pipeline.ErrBudgetExceeded) {
		t.Fatalf("expected budget error, got %v", err)
	}
	runCmd(t, "index", "-p", "itest", "--dry-run", "--budget-credits", "0")

	runCmd(t, "project", "remove-doc", "doc.md", "-p", "itest")
	out = runCmd(t, "list", "--docs", "-p", "itest")
	if !strings.Contains(out, "(no documents)") {
		t.Fatalf("document not removed: %q", out)
	}
}

func TestCLI_IndexAndSearchWithOllama(t *testing.T) {
	home := isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vecs := make([][]float64, len(req.Input))
		for i, s := range req.Input {
			if strings.Contains(strings.ToLower(s), "apple") {
				vecs[i] = []float64{1, 0, 0.1}
			} else {
				vecs[i] = []float64{0, 1, 0.1}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}))
	defer srv.Close()
	t.Setenv("DOCLOOM_OLLAMA_HOST", srv.URL)

	docs := filepath.Join(home, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	writeDoc(t, docs, "apple.txt", "Apple pie needs apples and cinnamon.")
	writeDoc(t, docs, "pear.md", "# Pears\n\nPear tart notes.")

	for _, backend := range []string{"json", "chromem"} {
		t.Run(backend, func(t *testing.T) {
			out := runCmd(t, "index", docs, "--provider", "ollama", "--model", "nomic-embed-text", "--store", backend, "--json")
			var res pipeline.Result
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatalf("decode index result: %v\n%s", err, out)
			}
			if len(res.Docs) != 2 || res.DryRun {
				t.Fatalf("unexpected index result: %+v", res)
			}

			out = runCmd(t, "search", "apple", "--store", backend, "-k", "1", "--json")
			var hits []struct {
				DocName string  `json:"doc_name"`
				Score   float64 `json:"score"`
			}
			if err := json.Unmarshal([]byte(out), &hits); err != nil {
				t.Fatalf("decode hits: %v\n%s", err, out)
			}
			if len(hits) != 1 || hits[0].DocName != "apple.txt" {
				t.Fatalf("unexpected hits: %+v", hits)
			}
		})
	}

	out := runCmd(t, "ledger", "show")
	if !strings.Contains(out, "nomic-embed-text") {
		t.Fatalf("charges not recorded: %q", out)
	}
}

func TestCLI_ConfigSetAndShow(t *testing.T) {
	isolate(t)
	runCmd(t, "config", "set", "budget_credits", "500")
	out := runCmd(t, "config", "show")
	if !strings.Contains(out, "budget_credits: 500") {
		t.Fatalf("config not saved: %q", out)
	}
	if _, err := execute("config", "set", "vector_store", "sqlite"); err == nil {
		t.Fatalf("expected invalid backend to fail")
	}
}

func TestCLI_PricingSyncSave(t *testing.T) {
	home := isolate(t)
	catalog := writeDoc(t, home, "pricing.json", `{"acme/embed-v1": {"dimensions": 8, "cost_per_million_tokens": "1"}}`)

	runCmd(t, "pricing", "sync", "--file", catalog, "--merge", "--save")
	// A fresh run loads the saved catalog.
	out := runCmd(t, "estimate", "--tokens", "1000000", "--model", "acme/embed-v1")
	if !strings.Contains(out, "Cost: $1.00000000") || !strings.Contains(out, "Credits: 10000") {
		t.Fatalf("saved catalog not applied: %q", out)
	}
}
