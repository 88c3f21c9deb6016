package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docparse-tracker/internal/config"
)

func TestKey(t *testing.T) {
	cases := map[[2]string]string{
		{"dev/temp/", "a.pdf"}:     "dev/temp/a.pdf",
		{"dev/temp", "a.pdf"}:      "dev/temp/a.pdf",
		{"", "a.pdf"}:              "a.pdf",
		{"p/", "../../etc/passwd"}: "p/etc/passwd",
	}
	for in, want := range cases {
		if got := Key(in[0], in[1]); got != want {
			t.Fatalf("Key(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestLocalStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := NewLocal(dir)

	obj, err := st.Put(ctx, "docs/a.pdf", []byte("hello"), "application/pdf")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != 5 || obj.Key != "docs/a.pdf" || !strings.HasPrefix(obj.URL, "file://") {
		t.Fatalf("object = %+v", obj)
	}
	data, err := os.ReadFile(filepath.Join(dir, "docs", "a.pdf"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("stored data = %q err=%v", data, err)
	}

	signed, err := st.SignURL(ctx, "docs/a.pdf", time.Hour)
	if err != nil || !strings.Contains(signed, "expires=") {
		t.Fatalf("sign = %q err=%v", signed, err)
	}

	if err := st.Delete(ctx, "docs/a.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, "docs/a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	if _, err := st.SignURL(ctx, "docs/a.pdf", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sign missing: expected ErrNotFound, got %v", err)
	}
}

func TestPublicBaseURL(t *testing.T) {
	cases := []struct {
		cfg  config.Config
		want string
	}{
		{config.Config{S3Bucket: "b", S3Region: "us-east-1"}, "https://b.s3.us-east-1.amazonaws.com/"},
		{config.Config{S3Bucket: "b", S3Endpoint: "http://minio:9000", S3PathStyle: true}, "http://minio:9000/b/"},
		{config.Config{S3Bucket: "b", S3Endpoint: "https://oss-cn-hangzhou.aliyuncs.com"}, "https://b.oss-cn-hangzhou.aliyuncs.com/"},
	}
	for _, c := range cases {
		if got := publicBaseURL(c.cfg); got != c.want {
			t.Fatalf("publicBaseURL(%+v) = %q, want %q", c.cfg, got, c.want)
		}
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), config.Config{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
