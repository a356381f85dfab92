package login

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntripcaster/caster/auth"
	"github.com/ntripcaster/caster/logger"
	"github.com/ntripcaster/caster/mount"
	"github.com/ntripcaster/caster/pool"
	"github.com/ntripcaster/caster/sourcetable"
	"github.com/ntripcaster/caster/stats"
	"github.com/ntripcaster/caster/transport"
)

type allowAllACL struct{ allow bool }

func (a allowAllACL) Allowed(string) bool { return a.allow }

type stubReader struct{}

func (stubReader) Kind() transport.Kind                               { return transport.PlainTCP }
func (stubReader) MaxRead(remaining int) int                          { return remaining }
func (stubReader) Attempt(ctx context.Context, dst []byte, off int) transport.Attempt {
	return transport.Attempt{}
}

func newHandler() (*Handler, *mount.Registry) {
	registry := mount.New(10)
	h := NewHandler(registry, pool.New(), stats.NewSet(), auth.NewFileStore(), allowAllACL{allow: true}, sourcetable.NewFileCatalog(nil), 8, 4, "globalsecret")
	return h, registry
}

func TestHandleSourceUploadRejectsOnACLRefusal(t *testing.T) {
	h, _ := newHandler()
	h.ACL = allowAllACL{allow: false}

	res := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/RTCM3"}, "s1", stubReader{})
	assert.Equal(t, StatusForbidden, res.Status)
}

func TestHandleSourceUploadRejectsNonNtripUserAgent(t *testing.T) {
	h, _ := newHandler()

	res := h.HandleSourceUpload(context.Background(), Request{UserAgent: "curl/8.0", Authorization: "globalsecret", Mount: "/RTCM3"}, "s1", stubReader{})
	assert.Equal(t, StatusUnauthorized, res.Status)
}

func TestHandleSourceUploadRejectsBadPassword(t *testing.T) {
	h, _ := newHandler()

	res := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "wrong", Mount: "/RTCM3"}, "s1", stubReader{})
	assert.Equal(t, StatusUnauthorized, res.Status)
}

func TestHandleSourceUploadRejectsEmptyRequest(t *testing.T) {
	h, _ := newHandler()

	res := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/RTCM3", Empty: true}, "s1", stubReader{})
	assert.Equal(t, StatusBadRequest, res.Status)
}

func TestHandleSourceUploadAdmitsValidRequest(t *testing.T) {
	h, registry := newHandler()

	res := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/RTCM3"}, "s1", stubReader{})
	require.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.Source)

	entry, found := registry.Find("/RTCM3", "", 0)
	assert.True(t, found)
	assert.Equal(t, res.Source.MountKey(), entry.MountKey())
}

func TestHandleSourceUploadRejectsDuplicateMountWithConflict(t *testing.T) {
	h, _ := newHandler()

	first := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/RTCM3"}, "s1", stubReader{})
	require.Equal(t, StatusOK, first.Status)

	second := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/RTCM3"}, "s2", stubReader{})
	assert.Equal(t, StatusConflict, second.Status)
}

func TestHandleSourceUploadRejectsOverCapacityWithUnavailable(t *testing.T) {
	registry := mount.New(1)
	h := NewHandler(registry, pool.New(), stats.NewSet(), auth.NewFileStore(), allowAllACL{allow: true}, sourcetable.NewFileCatalog(nil), 8, 4, "globalsecret")

	first := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/A"}, "s1", stubReader{})
	require.Equal(t, StatusOK, first.Status)

	second := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/B"}, "s2", stubReader{})
	assert.Equal(t, StatusUnavailable, second.Status)
}

func TestHandleSourceUploadAcceptsPerUserCredentialWhenEncoderPasswordWrong(t *testing.T) {
	authStore := auth.NewFileStore()
	authStore.AddUser("alice", "hunter2")
	registry := mount.New(10)
	h := NewHandler(registry, pool.New(), stats.NewSet(), authStore, allowAllACL{allow: true}, sourcetable.NewFileCatalog(nil), 8, 4, "globalsecret")

	res := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Username: "alice", Authorization: "hunter2", Mount: "/RTCM3"}, "s1", stubReader{})
	assert.Equal(t, StatusOK, res.Status)
}

type capturingLogger struct {
	logger.Logger
	debugLines []string
}

func (c *capturingLogger) Debugf(format string, v ...any) {
	c.debugLines = append(c.debugLines, fmt.Sprintf(format, v...))
}
func (c *capturingLogger) Logf(format string, v ...any)  {}
func (c *capturingLogger) Warnf(format string, v ...any) {}

func TestHandleSourceUploadLogsCredentialsThroughRedactableField(t *testing.T) {
	h, _ := newHandler()
	cap := &capturingLogger{}
	h.Log = cap

	res := h.HandleSourceUpload(context.Background(), Request{UserAgent: "NTRIP client", Authorization: "globalsecret", Mount: "/RTCM3"}, "s1", stubReader{})
	require.Equal(t, StatusOK, res.Status)

	require.Len(t, cap.debugLines, 1)
	assert.Contains(t, cap.debugLines[0], "auth=globalsecret")
}
