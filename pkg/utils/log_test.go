package utils

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewLineHandler(&buf)

	err := h.HandleLog(&log.Entry{
		Level:     log.WarnLevel,
		Message:   "fetch failed",
		Timestamp: time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC),
		Fields:    log.Fields{"url": "http://origin/x", "status": 502},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19 08:30:00 W fetch failed status=502 url=http://origin/x\n", buf.String())
}

func TestInitLogger(t *testing.T) {
	assert.Error(t, InitLogger("chatty"))
	assert.NoError(t, InitLogger("warn"))
	assert.NoError(t, InitLogger(""))
}

func TestPrintRequestWithMetadata(t *testing.T) {
	h := memory.New()
	log.SetHandler(h)
	log.SetLevel(log.DebugLevel)
	t.Cleanup(func() { _ = InitLogger("") })

	req := httptest.NewRequest("GET", "/index.html", nil)
	req.Header.Set("Accept", "text/html")
	PrintRequestWithMetadata(req, "Worker request", nil, "tab-1")

	require.Len(t, h.Entries, 1)
	e := h.Entries[0]
	assert.Equal(t, "Worker request", e.Message)
	assert.Equal(t, "tab-1", e.Fields.Get("client"))
	assert.Equal(t, "text/html", e.Fields.Get("header.Accept"))
	assert.Nil(t, e.Fields.Get("scope"))
}
