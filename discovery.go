package ppdbg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// matchEntry is one target announced to the report server.
type matchEntry struct {
	IP   string `json:"ip"`
	Port int    `json:"p"`
	T    int64  `json:"t,omitempty"`
}

func fetchMatchList(ctx context.Context, client *http.Client, listURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("match list %s: status %s", listURL, resp.Status)
	}
	var entries []matchEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("match list %s: %w", listURL, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IP == "" || e.Port <= 0 || e.Port > 65535 {
			continue
		}
		out = append(out, net.JoinHostPort(e.IP, strconv.Itoa(e.Port)))
	}
	return out, nil
}

// discover lists the addresses AutoConnect will try, match list first.
// A failing match list only costs its own candidates.
func (c *Client) discover(ctx context.Context) []string {
	var found []string
	if c.cfg.MatchListURL != "" {
		listed, err := fetchMatchList(ctx, c.httpClient, c.cfg.MatchListURL)
		if err != nil {
			c.logger.Warn("match list unavailable",
				zap.String("url", c.cfg.MatchListURL),
				zap.Error(err))
		} else {
			c.logger.Debug("match list fetched",
				zap.String("url", c.cfg.MatchListURL),
				zap.Int("targets", len(listed)))
			found = append(found, listed...)
		}
	}
	found = append(found, c.cfg.Candidates...)

	seen := make(map[string]struct{}, len(found))
	out := found[:0]
	for _, addr := range found {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
