package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServeCmd(t *testing.T) {
	t.Run("Should serve definitions until cancelled", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "approval.yaml"), []byte(approvalYAML), 0o600))
		port := freePort(t)

		ctx, cancel := context.WithCancel(t.Context())
		cmd := RootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{
			"--config", "", "--log-level", "disabled",
			"serve", "--definitions", dir, "--port", strconv.Itoa(port), "--metrics",
		})
		done := make(chan error, 1)
		go func() { done <- cmd.ExecuteContext(ctx) }()

		base := "http://127.0.0.1:" + strconv.Itoa(port)
		require.Eventually(t, func() bool {
			resp, err := http.Get(base + "/healthz") //nolint:noctx // test request
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 25*time.Millisecond)

		body := strings.NewReader(`{"process":"approval","data":{"amount":5},"auto_manual":true}`)
		resp, err := http.Post(base+"/api/v0/workflows", "application/json", body) //nolint:noctx // test request
		require.NoError(t, err)
		var envelope struct {
			Data struct {
				Completed bool           `json:"completed"`
				Data      map[string]any `json:"data"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.True(t, envelope.Data.Completed)
		assert.Equal(t, true, envelope.Data.Data["approved"])

		metrics, err := http.Get(base + "/metrics") //nolint:noctx // test request
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, metrics.StatusCode)
		require.NoError(t, metrics.Body.Close())

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not stop")
		}
	})

	t.Run("Should fail on an invalid definition", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\n"), 0o600))
		_, err := execute(t, "serve", "--definitions", dir, "--port", strconv.Itoa(freePort(t)))
		assert.Error(t, err)
	})
}

func TestVersionCmd(t *testing.T) {
	t.Run("Should print build information", func(t *testing.T) {
		out, err := execute(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "version:")
		assert.Contains(t, out, "go_version:")
	})
}
