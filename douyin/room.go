package douyin

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrBadRoom is returned for input that is neither a room id nor a live URL
var ErrBadRoom = errors.New("not a douyin live room")

var roomIDPattern = regexp.MustCompile(`^[0-9]{4,20}$`)

// RoomURL turns a room id, a live.douyin.com address or a share link with a
// room path into the canonical live room URL
func RoomURL(input string) (string, error) {
	s := strings.TrimSpace(input)
	if roomIDPattern.MatchString(s) {
		return LiveURLPrefix + s, nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", errors.Wrapf(ErrBadRoom, "%q", input)
	}
	if u.Host != "live.douyin.com" {
		return "", errors.Wrapf(ErrBadRoom, "%q", input)
	}

	id := strings.Trim(u.Path, "/")
	if i := strings.IndexByte(id, '/'); i >= 0 {
		id = id[:i]
	}
	if !roomIDPattern.MatchString(id) {
		return "", errors.Wrapf(ErrBadRoom, "%q", input)
	}
	return LiveURLPrefix + id, nil
}

// IsLiveURL reports whether raw points into a live room
func IsLiveURL(raw string) bool {
	_, err := RoomURL(raw)
	return err == nil
}
