package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/cell"
	"github.com/nextlevelbuilder/cellstore/internal/codec"
)

func newTestStores(t *testing.T) (*Stores, *backend.Cache) {
	t.Helper()
	kv, err := backend.NewCache("test", 64)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(KVLayout(kv, nil), Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })

	ctx := testCtx(t)
	if err := s.InitDefaults(ctx); err != nil {
		t.Fatalf("InitDefaults: %v", err)
	}
	return s, kv
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInitDefaults(t *testing.T) {
	s, kv := newTestStores(t)

	cols := s.Collections.Get()
	if len(cols) != 1 || cols[0].Title != DefaultCollectionName {
		t.Fatalf("collections = %+v", cols)
	}
	if s.CurrentCollectionID.Get() != cols[0].ID {
		t.Error("default collection not selected")
	}
	envs := s.Environments.Get()
	if len(envs) != 1 || envs[0].Name != GlobalsEnvironment {
		t.Fatalf("environments = %+v", envs)
	}
	if s.CurrentEnvironmentID.Get() != envs[0].ID {
		t.Error("Globals not selected")
	}
	if _, ok, _ := kv.Get(context.Background(), NameCollections); !ok {
		t.Error("collections not persisted")
	}

	// Running again keeps existing data.
	if err := s.InitDefaults(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	if got := s.Collections.Get(); len(got) != 1 || got[0].ID != cols[0].ID {
		t.Errorf("InitDefaults replaced data: %+v", got)
	}
}

func TestOpen_UnknownLayoutName(t *testing.T) {
	l := LayoutFunc(func(name string) (backend.Backend, error) {
		if name == NameHistory {
			return nil, errors.New("no history here")
		}
		kv, _ := backend.NewCache("", 8)
		return backend.Key(kv, name), nil
	})
	if _, err := Open(l, Options{}); err == nil {
		t.Fatal("expected layout error")
	}
}

func TestDeleteCollection(t *testing.T) {
	ctx := testCtx(t)

	t.Run("last collection recreates default", func(t *testing.T) {
		s, _ := newTestStores(t)
		old := s.Collections.Get()[0].ID
		if err := s.DeleteCollection(ctx, old); err != nil {
			t.Fatalf("DeleteCollection: %v", err)
		}
		cols := s.Collections.Get()
		if len(cols) != 1 || cols[0].ID == old || cols[0].Title != DefaultCollectionName {
			t.Fatalf("collections = %+v", cols)
		}
		if s.CurrentCollectionID.Get() != cols[0].ID {
			t.Error("new default not selected")
		}
	})

	t.Run("selected collection clears selection", func(t *testing.T) {
		s, _ := newTestStores(t)
		first := s.Collections.Get()[0].ID
		if _, err := s.CreateCollection(ctx, "Second", "", nil); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteCollection(ctx, first); err != nil {
			t.Fatal(err)
		}
		if got := s.CurrentCollectionID.Get(); got != "" {
			t.Errorf("selection = %q, want cleared", got)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		s, _ := newTestStores(t)
		if err := s.DeleteCollection(ctx, GenNewID()); !errors.Is(err, ErrCollectionNotFound) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestCollectionAndRequestCRUD(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)

	c, err := s.CreateCollection(ctx, "API", "https://api.example.com", []Header{{Key: "Accept", Value: "application/json"}})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := s.CreateCollection(ctx, "Bad", "not a url", nil); err == nil {
		t.Error("invalid base url accepted")
	}

	title := "Renamed"
	if err := s.UpdateCollection(ctx, c.ID, CollectionUpdate{Title: &title}); err != nil {
		t.Fatalf("UpdateCollection: %v", err)
	}

	r, err := s.CreateRequest(ctx, c.ID, NewRequest{Method: MethodGet, URL: "{{baseUrl}}/users"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if r.Headers == nil {
		t.Error("headers should default to empty")
	}
	if _, err := s.CreateRequest(ctx, c.ID, NewRequest{Method: "TRACE", URL: "https://x.test"}); err == nil {
		t.Error("unknown method accepted")
	}
	if _, err := s.CreateRequest(ctx, c.ID, NewRequest{Method: MethodPost, URL: "https://x.test", Variables: "{bad"}); err == nil {
		t.Error("invalid graphql variables accepted")
	}

	if err := s.UpdateRequest(ctx, c.ID, r.ID, NewRequest{Method: MethodPost, URL: "https://x.test/users"}); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}
	gotC, gotR, ok := s.FindRequest(r.ID)
	if !ok || gotC.Title != "Renamed" || gotR.Method != MethodPost || gotR.ID != r.ID {
		t.Errorf("FindRequest = %+v %+v %v", gotC, gotR, ok)
	}

	if err := s.DeleteRequest(ctx, c.ID, r.ID); err != nil {
		t.Fatalf("DeleteRequest: %v", err)
	}
	if err := s.DeleteRequest(ctx, c.ID, r.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("second delete err = %v", err)
	}

	if err := s.SelectCollection(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if cur, ok := s.CurrentCollection(); !ok || cur.ID != c.ID {
		t.Errorf("CurrentCollection = %+v %v", cur, ok)
	}
	if err := s.SelectCollection(ctx, GenNewID()); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("select unknown err = %v", err)
	}
}

func TestEnvironmentsAndVariables(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)

	globals := s.Environments.Get()[0]
	if err := s.SaveVariable(ctx, globals.ID, "host", Variable{Value: "global.test"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveVariable(ctx, globals.ID, "token", Variable{Value: "g-token", IsSecret: true}); err != nil {
		t.Fatal(err)
	}

	prod, err := s.CreateEnvironment(ctx, "Production")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SelectEnvironment(ctx, prod.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveVariableToActive(ctx, "host", "prod.test"); err != nil {
		t.Fatal(err)
	}

	vars := s.ResolveVariables()
	if vars["host"] != "prod.test" || vars["token"] != "g-token" {
		t.Errorf("ResolveVariables = %v", vars)
	}

	if err := s.SaveVariable(ctx, prod.ID, "bad name", Variable{}); err == nil {
		t.Error("invalid variable name accepted")
	}
	if err := s.DeleteVariable(ctx, prod.ID, "host"); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolveVariables()["host"]; got != "global.test" {
		t.Errorf("after delete host = %q", got)
	}

	if err := s.RenameEnvironment(ctx, prod.ID, "Prod"); err != nil {
		t.Fatal(err)
	}
	if cur, ok := s.CurrentEnvironment(); !ok || cur.Name != "Prod" {
		t.Errorf("CurrentEnvironment = %+v %v", cur, ok)
	}

	if err := s.DeleteEnvironment(ctx, prod.ID); err != nil {
		t.Fatal(err)
	}
	if s.CurrentEnvironmentID.Get() != "" {
		t.Error("deleting active environment kept selection")
	}
	if err := s.SaveVariableToActive(ctx, "x", "y"); !errors.Is(err, ErrNoActiveEnvironment) {
		t.Errorf("SaveVariableToActive err = %v", err)
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	vars := map[string]string{"host": "api.test", "id": "42", "empty": ""}
	tests := []struct{ in, want string }{
		{"", ""},
		{"https://{{host}}/users/{{ id }}", "https://api.test/users/42"},
		{"{{missing}}", "{{missing}}"},
		{"{{empty}}", "{{empty}}"},
		{"no placeholders", "no placeholders"},
		{"{{host}}{{host}}", "api.testapi.test"},
	}
	for _, tt := range tests {
		if got := SubstitutePlaceholders(tt.in, vars); got != tt.want {
			t.Errorf("SubstitutePlaceholders(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := Placeholders("{{a}} {{ b }} {{a}}"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Placeholders = %v", got)
	}
}

func TestHistory(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)

	req := NewRequest{Method: MethodGet, URL: "https://x.test"}
	var last HistoryEntry
	for i := 0; i < MaxHistory+5; i++ {
		e, ok := s.AddHistory(req, Response{Status: 200 + i%3}, "")
		if !ok {
			t.Fatal("history disabled by default")
		}
		last = e
	}
	h := s.History.Get()
	if len(h) != MaxHistory {
		t.Fatalf("len = %d, want %d", len(h), MaxHistory)
	}
	if h[0].ID != last.ID {
		t.Error("newest entry not first")
	}
	if h[0].ActiveEnvironmentID != s.CurrentEnvironmentID.Get() {
		t.Error("active environment not captured")
	}

	if err := s.DeleteHistory(ctx, last.ID); err != nil {
		t.Fatal(err)
	}
	if len(s.History.Get()) != MaxHistory-1 {
		t.Error("entry not deleted")
	}

	if err := s.SetHistoryEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.AddHistory(req, Response{}, ""); ok {
		t.Error("recorded while disabled")
	}
	if err := s.ClearHistory(ctx); err != nil {
		t.Fatal(err)
	}
	if len(s.History.Get()) != 0 {
		t.Error("history not cleared")
	}
}

func TestCookies(t *testing.T) {
	s, _ := newTestStores(t)

	if err := s.AddCookie(Cookie{Name: "sid", Value: "1"}); !errors.Is(err, ErrCookieDomain) {
		t.Errorf("cookie without domain err = %v", err)
	}
	for _, c := range []Cookie{
		{Name: "sid", Value: "1", Options: CookieOptions{Domain: "example.com", Path: "/"}},
		{Name: "sid", Value: "2", Options: CookieOptions{Domain: "example.com", Path: "/"}},
		{Name: "theme", Value: "dark", Options: CookieOptions{Domain: "example.com", Path: "/"}},
		{Name: "other", Value: "x", Options: CookieOptions{Domain: "other.test", Path: "/"}},
	} {
		if err := s.AddCookie(c); err != nil {
			t.Fatal(err)
		}
	}

	if got := s.Cookies.Get()["example.com"]; len(got) != 2 || got[1].Name != "theme" {
		t.Errorf("example.com cookies = %+v", got)
	}
	if got := s.CookieHeader("api.example.com"); got != "sid=2; theme=dark" {
		t.Errorf("CookieHeader = %q", got)
	}
	if got := s.CookieHeader("nothing.test"); got != "" {
		t.Errorf("CookieHeader for unknown host = %q", got)
	}
}

func TestSecrets(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)
	colID := s.Collections.Get()[0].ID

	g, err := s.SetSecret(ctx, Secret{Key: "token", Value: "global"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetSecret(ctx, Secret{Key: "token", Value: "scoped", Scope: ScopeCollection, CollectionID: colID}); err != nil {
		t.Fatal(err)
	}
	updated, err := s.SetSecret(ctx, Secret{Key: "token", Value: "global-2"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != g.ID {
		t.Error("update created a new secret")
	}
	if _, err := s.SetSecret(ctx, Secret{Key: "x", Scope: ScopeCollection}); err == nil {
		t.Error("collection scope without collection accepted")
	}

	if got := s.ResolveForCollection(colID)["token"]; got != "scoped" {
		t.Errorf("scoped token = %q", got)
	}
	if got := s.ResolveForCollection("other")["token"]; got != "global-2" {
		t.Errorf("global token = %q", got)
	}

	if err := s.DeleteSecret(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSecret(ctx, g.ID); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestGetSetJSON(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)

	if err := s.SetJSON(ctx, NameHistoryEnabled, "false"); err != nil {
		t.Fatal(err)
	}
	if s.HistoryEnabled.Get() {
		t.Error("history still enabled")
	}
	got, err := s.GetJSON(NameHistoryEnabled)
	if err != nil || got != "false" {
		t.Errorf("GetJSON = %q, %v", got, err)
	}

	// JSON5 input is accepted.
	raw := `[{id: "` + GenNewID() + `", name: "Staging", variables: {}, }]`
	if err := s.SetJSON(ctx, NameEnvironments, raw); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if envs := s.Environments.Get(); len(envs) != 1 || envs[0].Name != "Staging" {
		t.Errorf("environments = %+v", envs)
	}

	before := s.Collections.Get()
	if err := s.SetJSON(ctx, NameCollections, `[{"id":"nope","title":"x","requests":[],"headers":[]}]`); err == nil {
		t.Error("invalid collections accepted")
	}
	if len(s.Collections.Get()) != len(before) {
		t.Error("invalid value reached the store")
	}

	if _, err := s.GetJSON("bogus"); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("GetJSON bogus err = %v", err)
	}
}

func TestExportImport_Formats(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)
	want := s.Environments.Get()

	if err := s.Export(ctx, NameEnvironments, "", FormatYAML); err != nil {
		t.Fatalf("Export: %v", err)
	}
	path := filepath.Join(s.dir, ExportDir, NameEnvironments+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "name: "+GlobalsEnvironment) {
		t.Errorf("yaml export = %s", raw)
	}

	if _, err := s.CreateEnvironment(ctx, "Scratch"); err != nil {
		t.Fatal(err)
	}
	if err := s.Import(ctx, NameEnvironments, "", FormatYAML); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := s.Environments.Get(); len(got) != len(want) || got[0].ID != want[0].ID {
		t.Errorf("after import = %+v, want %+v", got, want)
	}

	// JSON imports accept hand edits; invalid content changes nothing.
	edited := filepath.Join(t.TempDir(), "envs.json")
	body := `[
		// trimmed by hand
		{id: "` + want[0].ID + `", name: "Renamed", variables: {},},
	]`
	if err := os.WriteFile(edited, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Import(ctx, NameEnvironments, edited, FormatJSON); err != nil {
		t.Fatalf("Import json5: %v", err)
	}
	if got := s.Environments.Get(); len(got) != 1 || got[0].Name != "Renamed" {
		t.Errorf("after json5 import = %+v", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("- id: nope\n  name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Import(ctx, NameEnvironments, bad, FormatYAML); !errors.Is(err, codec.ErrInvalid) {
		t.Errorf("invalid yaml import err = %v, want ErrInvalid", err)
	}
	if got := s.Environments.Get(); len(got) != 1 || got[0].Name != "Renamed" {
		t.Errorf("invalid import changed the store: %+v", got)
	}

	if err := s.Export(ctx, "bogus", "", FormatJSON); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("Export bogus err = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"toml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
	if FormatForPath("a/b.YML") != FormatYAML || FormatForPath("b.json5") != FormatJSON {
		t.Error("FormatForPath")
	}
}

func TestBackupRestore(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)
	root := t.TempDir()

	if _, err := s.CreateCollection(ctx, "Saved", "", nil); err != nil {
		t.Fatal(err)
	}
	s.AddHistory(NewRequest{Method: MethodGet, URL: "https://x.test"}, Response{Status: 204}, "")

	dir, err := s.Backup(ctx, root)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	for _, f := range BackupFiles() {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}

	other, _ := newTestStores(t)
	if err := other.Restore(ctx, dir); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := other.Collections.Get(); len(got) != 2 || got[1].Title != "Saved" {
		t.Errorf("restored collections = %+v", got)
	}
	if got := other.History.Get(); len(got) != 1 || got[0].Response.Status != 204 {
		t.Errorf("restored history = %+v", got)
	}

	if err := other.Restore(ctx, t.TempDir()); !errors.Is(err, cell.ErrImport) {
		t.Errorf("restore of empty dir err = %v, want ErrImport", err)
	}
}

func TestUploadAndPrune(t *testing.T) {
	s, _ := newTestStores(t)
	ctx := testCtx(t)
	root := t.TempDir()

	dir, err := s.Backup(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	dest, _ := backend.NewCache("upload", 8)
	if err := Upload(ctx, dir, func(file string) backend.Backend { return backend.Key(dest, file) }); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if dest.Len() != len(BackupFiles()) {
		t.Errorf("uploaded %d files", dest.Len())
	}

	for _, name := range []string{"2020-01-01T00-00-00.000Z", "2021-01-01T00-00-00.000Z"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := PruneBackups(root, 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	left, _ := ListBackups(root)
	if len(left) != 1 || left[0] != dir {
		t.Errorf("kept %v, want newest %s", left, dir)
	}
}
