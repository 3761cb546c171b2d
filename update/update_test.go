package update

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func releaseServer(t *testing.T, tag string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("GET /repos/GoCodeAlone/boardroom/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"tag_name":%q,"assets":[
			{"name":"boardroom_linux_x86_64.tar.gz","browser_download_url":"%[2]s/dl/client"},
			{"name":"boardroomd_darwin_arm64","browser_download_url":"%[2]s/dl/mac"},
			{"name":"boardroomd_linux_x86_64","browser_download_url":"%[2]s/dl/linux"}
		]}`, tag, srv.URL)
	})
	mux.HandleFunc("GET /dl/linux", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new binary")) //nolint:errcheck
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newUpdater(srv *httptest.Server, version string) *Updater {
	u := New(version, "boardroomd")
	u.APIBase = srv.URL
	u.GOOS, u.GOARCH = "linux", "amd64"
	return u
}

func TestCheck(t *testing.T) {
	srv := releaseServer(t, "v1.2.0")
	ctx := context.Background()

	t.Run("newer release", func(t *testing.T) {
		rel, err := newUpdater(srv, "v1.1.0").Check(ctx)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if rel == nil || rel.Version != "v1.2.0" || rel.Asset != "boardroomd_linux_x86_64" {
			t.Fatalf("unexpected release: %+v", rel)
		}
	})

	t.Run("up to date", func(t *testing.T) {
		rel, err := newUpdater(srv, "1.2.0").Check(ctx)
		if err != nil || rel != nil {
			t.Fatalf("expected nil release, got %+v %v", rel, err)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		if _, err := newUpdater(srv, "dev").Check(ctx); !errors.Is(err, ErrDevBuild) {
			t.Fatalf("expected ErrDevBuild, got %v", err)
		}
	})

	t.Run("no asset for platform", func(t *testing.T) {
		u := newUpdater(srv, "v1.0.0")
		u.GOOS = "windows"
		if _, err := u.Check(ctx); err == nil {
			t.Fatal("expected missing asset error")
		}
	})
}

func TestApply(t *testing.T) {
	srv := releaseServer(t, "v2.0.0")
	u := newUpdater(srv, "v1.0.0")
	ctx := context.Background()

	rel, err := u.Check(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	target := filepath.Join(t.TempDir(), "boardroomd")
	if err := os.WriteFile(target, []byte("old binary"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := u.Apply(ctx, rel, target); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "new binary" {
		t.Errorf("expected replaced binary, got %q", got)
	}

	rel.URL = srv.URL + "/dl/missing"
	if err := u.Apply(ctx, rel, target); err == nil {
		t.Error("expected error for failed download")
	}
}
