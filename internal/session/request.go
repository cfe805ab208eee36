package session

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"yardwatch/native/internal/domain"
)

var ipv4Pattern = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)

// ConnectRequest is the operator input for adding a camera.
type ConnectRequest struct {
	Address     string `json:"address"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"name"`
}

// Validate checks the request before any network call. It is input hygiene
// for the operator form, not an access check.
func (r ConnectRequest) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"address", r.Address},
		{"username", r.Username},
		{"password", r.Password},
		{"name", r.DisplayName},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	if a := strings.TrimSpace(r.Address); a != "" && !ipv4Pattern.MatchString(a) {
		errs = append(errs, fmt.Errorf("address %q is not an IPv4 address", a))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// StreamURL builds the rtsp URL the gateway pulls from. The gateway contract
// requires the credentials inside the URL.
func (r ConnectRequest) StreamURL() string {
	u := url.URL{
		Scheme: "rtsp",
		User:   url.UserPassword(r.Username, r.Password),
		Host:   strings.TrimSpace(r.Address),
		Path:   "/stream",
	}
	return u.String()
}

// AddressFromStreamURL recovers the camera address of a restored stream.
func AddressFromStreamURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "restored"
	}
	return u.Hostname()
}
