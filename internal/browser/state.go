package browser

import (
	"encoding/json"
	"os"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
)

// StorageState is a saved authenticated session: cookies plus per-origin
// localStorage, in the format browser automation tools export.
type StorageState struct {
	Cookies []StateCookie `json:"cookies"`
	Origins []StateOrigin `json:"origins"`
}

// StateCookie is one saved cookie. Expires is Unix seconds; -1 marks a
// session cookie.
type StateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// StateOrigin holds the localStorage of one origin.
type StateOrigin struct {
	Origin       string      `json:"origin"`
	LocalStorage []StateItem `json:"localStorage"`
}

// StateItem is a localStorage entry.
type StateItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadStorageState reads a storage state file. An empty path yields an
// empty state.
func LoadStorageState(path string) (*StorageState, error) {
	if path == "" {
		return &StorageState{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: read storage state %s", path)
	}
	return ParseStorageState(data)
}

// ParseStorageState decodes storage state JSON.
func ParseStorageState(data []byte) (*StorageState, error) {
	var s StorageState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "browser: decode storage state")
	}
	return &s, nil
}

// CookieParams converts the saved cookies for Network.setCookies.
func (s *StorageState) CookieParams() []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		out = append(out, p)
	}
	return out
}

// LocalStorageScript returns a script that restores the saved localStorage
// of whichever origin the document loads on. It returns "" when nothing is
// saved.
func (s *StorageState) LocalStorageScript() (string, error) {
	byOrigin := make(map[string]map[string]string, len(s.Origins))
	for _, o := range s.Origins {
		if len(o.LocalStorage) == 0 {
			continue
		}
		items := make(map[string]string, len(o.LocalStorage))
		for _, it := range o.LocalStorage {
			items[it.Name] = it.Value
		}
		byOrigin[o.Origin] = items
	}
	if len(byOrigin) == 0 {
		return "", nil
	}
	data, err := json.Marshal(byOrigin)
	if err != nil {
		return "", eris.Wrap(err, "browser: encode local storage")
	}
	return `(() => {
  const saved = ` + string(data) + `[location.origin];
  if (!saved) return;
  for (const [k, v] of Object.entries(saved)) localStorage.setItem(k, v);
})()`, nil
}
