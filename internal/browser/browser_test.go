package browser

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djesaja/backstage-ingest/internal/config"
	"github.com/djesaja/backstage-ingest/internal/crawler"
)

var _ crawler.Surface = (*Session)(nil)
var _ crawler.SessionFactory = (*Factory)(nil)

func TestDashboardURL(t *testing.T) {
	got, err := DashboardURL(config.ScrapeConfig{
		BaseURL:        "https://backstage.example.com/portal/revenue/task",
		SettleJobID:    "111",
		SettleSubJobID: "222",
		TaskID:         "333",
		ViewTab:        "by_manager",
		SubViewTab:     "EligibleAnchor",
	}, "202601")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "backstage.example.com", u.Host)
	assert.Equal(t, "/portal/revenue/task", u.Path)
	q := u.Query()
	assert.Equal(t, "202601", q.Get("Month"))
	assert.Equal(t, "111", q.Get("SettleJobID"))
	assert.Equal(t, "222", q.Get("SettleSubJobID"))
	assert.Equal(t, "333", q.Get("TaskID"))
	assert.Equal(t, "by_manager", q.Get("viewTab"))
	assert.Equal(t, "EligibleAnchor", q.Get("subViewTab"))
}

func TestDashboardURL_KeepsExistingQueryAndSkipsEmpty(t *testing.T) {
	got, err := DashboardURL(config.ScrapeConfig{BaseURL: "https://h.example/x?lang=en"}, "202512")
	require.NoError(t, err)

	q, err := url.ParseQuery(got[len("https://h.example/x?"):])
	require.NoError(t, err)
	assert.Equal(t, "en", q.Get("lang"))
	assert.Equal(t, "202512", q.Get("Month"))
	assert.False(t, q.Has("TaskID"))
}

func TestDashboardURL_Invalid(t *testing.T) {
	_, err := DashboardURL(config.ScrapeConfig{BaseURL: "/relative"}, "202601")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not absolute")
}

const sampleState = `{
  "cookies": [
    {"name": "sid", "value": "abc", "domain": ".example.com", "path": "/",
     "expires": 1893456000, "httpOnly": true, "secure": true, "sameSite": "Lax"},
    {"name": "tmp", "value": "x", "domain": "example.com", "path": "/", "expires": -1}
  ],
  "origins": [
    {"origin": "https://backstage.example.com",
     "localStorage": [{"name": "lang", "value": "en"}, {"name": "token", "value": "t\"q"}]},
    {"origin": "https://empty.example.com", "localStorage": []}
  ]
}`

func TestParseStorageState(t *testing.T) {
	s, err := ParseStorageState([]byte(sampleState))
	require.NoError(t, err)

	cookies := s.CookieParams()
	require.Len(t, cookies, 2)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HTTPOnly)
	assert.Equal(t, proto.NetworkCookieSameSiteLax, cookies[0].SameSite)
	assert.Equal(t, proto.TimeSinceEpoch(1893456000), cookies[0].Expires)
	assert.Zero(t, cookies[1].Expires)

	script, err := s.LocalStorageScript()
	require.NoError(t, err)
	assert.Contains(t, script, `"https://backstage.example.com":{"lang":"en","token":"t\"q"}`)
	assert.NotContains(t, script, "empty.example.com")
}

func TestLocalStorageScript_Empty(t *testing.T) {
	script, err := (&StorageState{}).LocalStorageScript()
	require.NoError(t, err)
	assert.Empty(t, script)
}

func TestLoadStorageState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleState), 0o600))

	s, err := LoadStorageState(path)
	require.NoError(t, err)
	assert.Len(t, s.Cookies, 2)

	s, err = LoadStorageState("")
	require.NoError(t, err)
	assert.Empty(t, s.Cookies)

	_, err = LoadStorageState(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = LoadStorageState(path)
	require.Error(t, err)
}
