package objectstore

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "assets",
		Prefix:    "catalog",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.Prefix = "/catalog"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for absolute prefix")
	}
}

func TestKey(t *testing.T) {
	cases := []struct {
		prefix, rel, want string
	}{
		{"", "game-a/app-agent-a/app-agent-a.json", "game-a/app-agent-a/app-agent-a.json"},
		{"catalog", "/game-a/x.png", "catalog/game-a/x.png"},
		{"catalog/", "game-a/x.png", "catalog/game-a/x.png"},
	}
	for _, tc := range cases {
		cfg := Config{Prefix: tc.prefix}
		if got := cfg.Key(tc.rel); got != tc.want {
			t.Fatalf("Key(%q) prefix=%q got=%q, want %q", tc.rel, tc.prefix, got, tc.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	noKey := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	if !IsNotFound(noKey) {
		t.Fatalf("IsNotFound(NoSuchKey)=false")
	}
	if !IsNotFound(fmt.Errorf("stat: %w", ErrNotFound)) {
		t.Fatalf("IsNotFound(wrapped ErrNotFound)=false")
	}
	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	if IsNotFound(denied) {
		t.Fatalf("IsNotFound(AccessDenied)=true")
	}
	if !errors.Is(translate(noKey), ErrNotFound) {
		t.Fatalf("translate(NoSuchKey) does not wrap ErrNotFound")
	}
	if IsNotFound(nil) {
		t.Fatalf("IsNotFound(nil)=true")
	}
}
