package secrets

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestVault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	v, err := Open(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Set("openai_api_key", "sk-test"); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("db_token", "tok"); err != nil {
		t.Fatal(err)
	}

	got, err := v.Get("openai_api_key")
	if err != nil || got != "sk-test" {
		t.Fatalf("get: %q %v", got, err)
	}
	if names := v.List(); !reflect.DeepEqual(names, []string{"db_token", "openai_api_key"}) {
		t.Errorf("list: %v", names)
	}

	// Reopen from disk with the same passphrase.
	v2, err := Open(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if got, err := v2.Get("db_token"); err != nil || got != "tok" {
		t.Fatalf("reopened get: %q %v", got, err)
	}
}

func TestVault_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	v, err := Open(path, "right")
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Set("k", "v"); err != nil {
		t.Fatal(err)
	}

	wrong, err := Open(path, "wrong")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.Get("k"); err == nil {
		t.Fatal("expected decrypt failure")
	}
}

func TestVault_PlaintextNeverOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	v, err := Open(path, "p")
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Set("k", "super-secret-value"); err != nil {
		t.Fatal(err)
	}

	raw := readFile(t, path)
	if strings.Contains(raw, "super-secret-value") {
		t.Fatal("secret stored in the clear")
	}
}

func TestVault_MissingAndDelete(t *testing.T) {
	v, err := Open(filepath.Join(t.TempDir(), "secrets.json"), "p")
	if err != nil {
		t.Fatal(err)
	}

	_, err = v.Get("ghost")
	if ee := schema.AsEngineError(err, ""); ee == nil || ee.Code != schema.ErrCodeNotFound {
		t.Errorf("got %v", err)
	}

	if err := v.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("k"); err != nil {
		t.Errorf("deleting an absent name: %v", err)
	}
	if _, err := v.Get("k"); err == nil {
		t.Error("deleted secret still resolves")
	}
}

func TestVault_NoPassphrase(t *testing.T) {
	if _, err := Open("unused", ""); err == nil {
		t.Fatal("expected error")
	}
}
