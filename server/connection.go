package cuebridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	Mp "github.com/maroda/cuebridge/plugin"
	Mt "github.com/maroda/cuebridge/types"
)

const (
	defaultRetryDelay = 1 * time.Second
	defaultLoginPoll  = 3 * time.Second
)

// Target is a resolved server address
type Target struct {
	Protocol string
	Host     string
	Port     int
}

// URL is protocol://host:port, empty without a host
func (t Target) URL() string {
	if t.Host == "" {
		return ""
	}
	return UrlCat(t.Protocol, "://", t.Host, ":", strconv.Itoa(t.Port))
}

// Probe is the outcome of TestConnection.
// OK only degrades on transport failure, an HTTP error status is still OK.
type Probe struct {
	OK     bool
	Status int
	Body   []byte
	Err    error
}

// ConnectResult is the outcome of Establish
type ConnectResult struct {
	OK         bool
	Target     Target
	Attempts   int
	Discovered bool // the target came from autodiscovery
}

// Connection owns the server target, the login state
// and the lifecycle state of the bridge.
type Connection struct {
	MU           sync.RWMutex
	configured   Target // from settings, never rewritten
	target       Target // the address in use, direct or discovered
	state        Mt.ConnState
	loggedIn     bool
	Autodiscover string
	ServerName   string

	RetryLimit   int
	RetryDelay   time.Duration
	LoginPoll    time.Duration
	LoginTimeout time.Duration // zero never gives up on the operator

	ProbeClient    HTTPClient // follows redirects, used for probes and discovery
	DispatchClient HTTPClient // returns redirects to the caller
	Profile        Mp.AuthProfile
	Open           func(url string) error
}

// NewConnection builds a Connection from settings.
// An unknown Server_Name means the server needs no login.
func NewConnection(s Settings) *Connection {
	configured := Target{Protocol: s.Protocol, Host: s.IP, Port: s.ControlPort}
	c := &Connection{
		configured:     configured,
		target:         configured,
		state:          Mt.Configured,
		Autodiscover:   s.Autodiscover,
		ServerName:     s.ServerName,
		RetryLimit:     s.ConnectionRetries,
		RetryDelay:     defaultRetryDelay,
		LoginPoll:      defaultLoginPoll,
		LoginTimeout:   s.LoginTimeout,
		ProbeClient:    NewHTTPClient(s.RequestTimeout, true),
		DispatchClient: NewHTTPClient(s.RequestTimeout, false),
		Open:           Mp.OpenBrowser,
	}
	if s.ServerName != "" {
		profile, err := Mp.AuthLookup(s.ServerName)
		if err != nil {
			slog.Info("No login profile for server, assuming open access", slog.String("server", s.ServerName))
		}
		c.Profile = profile
	}
	return c
}

// Target returns the current server address
func (c *Connection) Target() Target {
	c.MU.RLock()
	defer c.MU.RUnlock()
	return c.target
}

// BaseURL is the current server URL
func (c *Connection) BaseURL() string {
	return c.Target().URL()
}

func (c *Connection) State() Mt.ConnState {
	c.MU.RLock()
	defer c.MU.RUnlock()
	return c.state
}

// SetState moves the lifecycle along, logging the transition
func (c *Connection) SetState(s Mt.ConnState) {
	c.MU.Lock()
	prev := c.state
	c.state = s
	c.MU.Unlock()
	if prev != s {
		slog.Debug("State transition", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

func (c *Connection) LoggedIn() bool {
	c.MU.RLock()
	defer c.MU.RUnlock()
	return c.loggedIn
}

func (c *Connection) setLoggedIn(v bool) {
	c.MU.Lock()
	c.loggedIn = v
	c.MU.Unlock()
}

func (c *Connection) setTarget(t Target) {
	c.MU.Lock()
	c.target = t
	c.MU.Unlock()
}

// TestConnection issues a GET to the base URL
func (c *Connection) TestConnection(ctx context.Context) Probe {
	u := c.BaseURL()
	if u == "" {
		return Probe{Err: errors.New("no server address")}
	}

	slog.Info("Connecting ...", slog.String("URL", u))
	status, body, err := SingleFetchWithClient(ctx, u, c.ProbeClient)
	if err != nil {
		slog.Warn("Connection failed", slog.String("URL", u), slog.Any("Error", err))
		return Probe{Status: status, Err: err}
	}
	slog.Info("Server found", slog.String("URL", u), slog.Int("status", status))
	return Probe{OK: true, Status: status, Body: body}
}

// Discover asks the autodiscover endpoint for the server address.
// The body is a list of URIs, one per line, the first one carrying
// our control port wins and replaces the target.
func (c *Connection) Discover(ctx context.Context) (Target, error) {
	current := c.Target()
	endpoint := c.Autodiscover
	if endpoint == "" {
		return current, errors.New("no autodiscover address")
	}
	// If the preamble is missing add the protocol
	if !strings.Contains(endpoint, "://") {
		endpoint = UrlCat(c.configured.Protocol, "://", endpoint)
	}

	slog.Info("Attempt autodiscover", slog.String("URL", endpoint))
	_, body, err := SingleFetchWithClient(ctx, endpoint, c.ProbeClient)
	if err != nil {
		return current, fmt.Errorf("autodiscover at %s: %w", endpoint, err)
	}

	t, err := ParseDiscovery(body, c.configured.Port)
	if err != nil {
		return current, fmt.Errorf("autodiscover at %s: %w", endpoint, err)
	}

	slog.Info("Autodiscover found", slog.String("URL", endpoint), slog.String("target", t.URL()))
	c.setTarget(t)
	return t, nil
}

// ParseDiscovery picks the first line containing :port and reads it as protocol://host:port
func ParseDiscovery(body []byte, port int) (Target, error) {
	needle := ":" + strconv.Itoa(port)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.Contains(line, needle) {
			continue
		}
		u, err := url.Parse(line)
		if err != nil {
			return Target{}, fmt.Errorf("bad URI %q: %w", line, err)
		}
		p, err := strconv.Atoi(u.Port())
		if err != nil || u.Scheme == "" || u.Hostname() == "" {
			return Target{}, fmt.Errorf("bad URI %q", line)
		}
		return Target{Protocol: u.Scheme, Host: u.Hostname(), Port: p}, nil
	}
	if err := scanner.Err(); err != nil {
		return Target{}, fmt.Errorf("scanning error: %w", err)
	}
	return Target{}, fmt.Errorf("no URI with port %d", port)
}

// Establish finds a reachable server.
// Every cycle tries the direct address first and falls back to autodiscovery,
// the topology may change between retries.
func (c *Connection) Establish(ctx context.Context) (ConnectResult, error) {
	limit := c.RetryLimit
	if limit < 1 {
		limit = 1
	}
	serverConfigured := c.configured.Host != ""
	discoverConfigured := c.Autodiscover != ""
	res := ConnectResult{}

	for attempt := 1; attempt <= limit; attempt++ {
		res.Attempts = attempt

		if !serverConfigured && !discoverConfigured {
			slog.Error("No server address and no autodiscover configured")
			c.SetState(Mt.Exit)
			return res, ErrConnectionUnavailable
		}

		if serverConfigured {
			// A previous cycle may have left a discovered target behind
			c.setTarget(c.configured)
			if probe := c.TestConnection(ctx); probe.OK {
				return c.connected(res), nil
			}
		} else {
			slog.Warn("Server address not configured")
		}

		if discoverConfigured {
			if _, err := c.Discover(ctx); err != nil {
				slog.Warn("Autodiscover failed", slog.Any("Error", err))
			} else if probe := c.TestConnection(ctx); probe.OK {
				res.Discovered = true
				return c.connected(res), nil
			}
		}

		c.SetState(Mt.ConnectionRetry)
		if attempt < limit {
			slog.Info("Retry connection ...", slog.Int("attempt", attempt), slog.Int("limit", limit))
			if err := sleepCtx(ctx, c.RetryDelay); err != nil {
				c.SetState(Mt.Exit)
				return res, fmt.Errorf("%w: %w", ErrConnectionUnavailable, err)
			}
		}
	}

	slog.Error("Connection retry limit reached ... exiting!", slog.Int("limit", limit))
	c.SetState(Mt.Exit)
	return res, ErrConnectionUnavailable
}

func (c *Connection) connected(res ConnectResult) ConnectResult {
	c.SetState(Mt.Connected)
	res.OK = true
	res.Target = c.Target()
	return res
}

// Login runs the browser login flow when the auth profile sees a login page.
// It blocks until the page stops asking, the context ends,
// or LoginTimeout passes when one is set.
func (c *Connection) Login(ctx context.Context) error {
	if c.Profile == nil {
		c.setLoggedIn(true)
		return nil
	}

	probe := c.TestConnection(ctx)
	if !probe.OK {
		return &TransportError{URL: c.BaseURL(), Err: probe.Err}
	}
	if !c.Profile.NeedsLogin(probe.Body) {
		slog.Info("Login authenticated!", slog.String("server", c.Profile.Type()))
		c.setLoggedIn(true)
		return nil
	}

	c.setLoggedIn(false)
	base := c.BaseURL()
	slog.Info("Opening login page in the default web browser to request password", slog.String("URL", base))
	if c.Open != nil {
		if err := c.Open(base); err != nil {
			slog.Warn("Could not open browser, open the page manually", slog.String("URL", base), slog.Any("Error", err))
		}
	}

	if c.LoginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.LoginTimeout)
		defer cancel()
	}

	for {
		probe = c.TestConnection(ctx)
		if probe.OK && !c.Profile.NeedsLogin(probe.Body) {
			slog.Info("Login authenticated!", slog.String("server", c.Profile.Type()))
			c.setLoggedIn(true)
			return nil
		}
		slog.Info("Waiting for password...")
		if err := sleepCtx(ctx, c.LoginPoll); err != nil {
			return fmt.Errorf("login wait: %w", err)
		}
	}
}

// Fetch sends a trigger call, redirects come back as-is
func (c *Connection) Fetch(ctx context.Context, u string) (int, []byte, error) {
	return SingleFetchWithClient(ctx, u, c.DispatchClient)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
