package ppdbg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

func parseConstraint(s string) (*semver.Constraints, error) {
	return semver.NewConstraint(s)
}

// checkServerVersion matches version against constraint, ignoring any
// prerelease or build suffix the target appends to its release number.
func checkServerVersion(constraint, version string) error {
	if constraint == "" {
		return nil
	}
	cons, err := parseConstraint(constraint)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: unparseable version %q", ErrIncompatibleServer, version)
	}
	release, err := v.SetPrerelease("")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatibleServer, err)
	}
	if !cons.Check(&release) {
		return fmt.Errorf("%w: version %s does not satisfy %s", ErrIncompatibleServer, version, constraint)
	}
	return nil
}

// handshake exchanges "version" with the target on a session that is still
// connecting.
func (c *Client) handshake(ctx context.Context, sess *session) (ServerInfo, error) {
	frame, err := json.Marshal(NewMessage(TopicVersion, map[string]any{
		"name":    c.cfg.ClientName,
		"version": c.cfg.ClientVersion,
	}))
	if err != nil {
		return ServerInfo{}, err
	}
	reply, err := c.request(sess, TopicVersion, frame).Wait(ctx)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("version handshake: %w", err)
	}
	info := ServerInfo{At: time.Now()}
	info.Name, _ = reply["name"].(string)
	info.Version, _ = reply["version"].(string)
	if err := checkServerVersion(c.cfg.MinServerVersion, info.Version); err != nil {
		return info, err
	}
	return info, nil
}
