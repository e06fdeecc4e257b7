package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"bypasskv/internal/api"
)

func TestRunInMemorySucceeds(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-quiet"}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Beginning in mode: in-memory")
	assert.Contains(t, stdout.String(), "Test complete, all assertions held true.")
}

func TestRunNetworkedSucceeds(t *testing.T) {
	srv := api.NewServer(api.ServerOptions{})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "bypass.json")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(`{"endpoint": %q}`, ts.URL)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"-quiet", "networked", path}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Beginning in mode: networked")

	_, exists := srv.Region("BypassTestTable")
	assert.False(t, exists, "table is dropped after the run")
}

func TestRunFailures(t *testing.T) {
	cases := map[string][]string{
		"unknown mode":   {"-quiet", "sideways"},
		"missing path":   {"-quiet", "networked"},
		"missing config": {"-quiet", "against-cluster", filepath.Join(t.TempDir(), "nope.json")},
		"unknown flag":   {"-loud"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, 1, run(args, &stdout, &stderr))
			assert.NotEmpty(t, stderr.String())
		})
	}
}

func TestRunQuietByDefault(t *testing.T) {
	t.Setenv("BYPASSDEMO_QUIET", "")
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(nil, &stdout, &stderr), stderr.String())
	assert.Empty(t, stderr.String())

	stderr.Reset()
	t.Setenv("BYPASSDEMO_QUIET", "0")
	assert.Equal(t, 0, run(nil, &stdout, &stderr), stderr.String())
	assert.Contains(t, stderr.String(), "region")

	stderr.Reset()
	assert.Equal(t, 0, run([]string{"-quiet=false"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stderr.String(), "region")
}

func TestQuietDefault(t *testing.T) {
	assert.True(t, quietDefault(""))
	assert.True(t, quietDefault("yes please"))
	assert.True(t, quietDefault("1"))
	assert.False(t, quietDefault("0"))
	assert.False(t, quietDefault("false"))
}
