package browser

import (
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/djesaja/backstage-ingest/internal/config"
)

// DashboardURL returns the by-manager task view for the period code.
func DashboardURL(cfg config.ScrapeConfig, period string) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", eris.Wrapf(err, "browser: parse base url %q", cfg.BaseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", eris.Errorf("browser: base url %q is not absolute", cfg.BaseURL)
	}

	q := u.Query()
	q.Set("Month", period)
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("SettleJobID", cfg.SettleJobID)
	set("SettleSubJobID", cfg.SettleSubJobID)
	set("TaskID", cfg.TaskID)
	set("subViewTab", cfg.SubViewTab)
	set("viewTab", cfg.ViewTab)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
